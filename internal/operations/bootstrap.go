package operations

import (
	"context"

	"github.com/kingrea/bridgera/internal/operation"
	"github.com/kingrea/bridgera/internal/session"
)

func bootstrapOperations() []operation.Operation {
	return []operation.Operation{
		{
			Name:        GetInstanceIDCM,
			Label:       "Get Instance ID - CM",
			Description: "Bind this console to the credential program and learn the bridge public key.",
			Tier:        operation.TierBootstrap,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().GetInstanceID(ctx, exec.Programs().CredentialProgramGUID)
				outcome := exec.Respond(raw, err)
				if outcome == operation.OutcomeSuccess {
					exec.Thread(raw, "instanceId", session.KeyInstanceID)
					exec.Thread(raw, "bridgeRAEncPublicKey", session.KeyBridgePublicKey)
				}
				return outcome
			},
		},
		{
			Name:        GetInstanceIDAcceptor,
			Label:       "Get Instance ID - Acceptor",
			Description: "Bind this console to the acceptor program.",
			Tier:        operation.TierBootstrap,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().GetInstanceID(ctx, exec.Programs().AcceptorProgramGUID)
				outcome := exec.Respond(raw, err)
				if outcome == operation.OutcomeSuccess {
					exec.Thread(raw, "instanceId", session.KeyInstanceID)
				}
				return outcome
			},
		},
		{
			Name:        ClearAppState,
			Label:       "Clear App State",
			Description: "Forget every recorded response and identifier.",
			Tier:        operation.TierBootstrap,
			Execute: func(_ context.Context, exec *operation.Exec) operation.Outcome {
				exec.Reset()
				return operation.OutcomeSuccess
			},
		},
	}
}
