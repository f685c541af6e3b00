package operations

import (
	"context"

	"github.com/kingrea/bridgera/internal/bridge"
	"github.com/kingrea/bridgera/internal/operation"
	"github.com/kingrea/bridgera/internal/session"
)

// Stored value accounts live outside the program space.
func svaOperations() []operation.Operation {
	return []operation.Operation{
		{
			Name:        CreateSva,
			Label:       "Create SVA",
			Description: "Create a stored value account on the card.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().CreateSVA(ctx, bridge.SVACreateRequest{
					ProgramGUID: exec.Programs().AcceptorProgramGUID,
					RID:         exec.String(session.KeyAccRID),
					SVAData: bridge.SVAData{
						PurseSubType: exec.Fixtures().PurseSubType,
						SVAUnit:      exec.Fixtures().SVAUnit,
					},
				})
				return respond(exec, raw, err)
			},
		},
		{
			Name:        ReadSva,
			Label:       "Read SVA",
			Description: "Read the stored value account for the fixture unit.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().ReadSVA(ctx, bridge.SVAReadRequest{
					ProgramGUID: exec.Programs().AcceptorProgramGUID,
					RID:         exec.String(session.KeyAccRID),
					SVAUnit:     exec.Fixtures().SVAUnit,
				})
				return respond(exec, raw, err)
			},
		},
		{
			Name:        ReadAllSvas,
			Label:       "Read All SVAs",
			Description: "List every stored value account on the card.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().ReadAllSVAs(ctx, bridge.SVAListRequest{
					ProgramGUID: exec.Programs().AcceptorProgramGUID,
					RID:         exec.String(session.KeyAccRID),
				})
				return respond(exec, raw, err)
			},
		},
		{
			Name:        MutateSva,
			Label:       "INCREASE SVA",
			Description: "Increase the fixture unit balance by the fixture amount.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().MutateSVA(ctx, bridge.SVAMutateRequest{
					ProgramGUID: exec.Programs().AcceptorProgramGUID,
					RID:         exec.String(session.KeyAccRID),
					SVAOperation: bridge.SVAOperation{
						Amount:        exec.Fixtures().SVAAmount,
						OperationType: bridge.SVAIncrease,
						SVAUnit:       exec.Fixtures().SVAUnit,
					},
				})
				return respond(exec, raw, err)
			},
		},
	}
}
