package operations

import (
	"context"

	"github.com/kingrea/bridgera/internal/bridge"
	"github.com/kingrea/bridgera/internal/operation"
	"github.com/kingrea/bridgera/internal/session"
)

func syncOperations() []operation.Operation {
	return []operation.Operation{
		{
			Name:        BatchOperation,
			Label:       "Batch Operation - CM",
			Description: "Verify the passcode and read the SVA in one round trip.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				program := exec.Programs().CredentialProgramGUID
				raw, err := exec.Bridge().BatchOperation(ctx, bridge.BatchRequest{
					ShouldContinueOnError: false,
					ReliantAppInstanceID:  exec.String(session.KeyInstanceID),
					ProgramGUID:           program,
					Operations: []bridge.BatchStep{
						{
							Action:  bridge.BatchVerifyPasscode,
							Payload: map[string]any{
								"passcode":               exec.Fixtures().Passcode,
								"formFactor":             exec.Fixtures().FormFactor,
								"participationProgramId": program,
							},
						},
						{
							Action:  bridge.BatchReadSVA,
							Payload: map[string]any{
								"rId":                    exec.String(session.KeyAccRID),
								"isProgramSpace":         false,
								"participationProgramId": program,
							},
						},
					},
				})
				return respond(exec, raw, err)
			},
		},
		{
			Name:        StartDataSync,
			Label:       "Start Data Sync",
			Description: "Start the background data sync worker.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().StartDataSync(ctx, exec.Programs().CredentialProgramGUID)
				return respond(exec, raw, err)
			},
		},
		{
			Name:        GetDataSyncWorkerStatus,
			Label:       "Get Data Sync Worker Status",
			Description: "Poll the data sync worker.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().GetDataSyncWorkerStatus(ctx, exec.Programs().CredentialProgramGUID)
				return respond(exec, raw, err)
			},
		},
	}
}
