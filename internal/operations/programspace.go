package operations

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kingrea/bridgera/internal/bridge"
	"github.com/kingrea/bridgera/internal/operation"
	"github.com/kingrea/bridgera/internal/session"
)

func programSpaceOperations() []operation.Operation {
	return []operation.Operation{
		{
			Name:        GetDataSchema,
			Label:       "Get Data Schema",
			Description: "Fetch the acceptor program space schema.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().GetDataSchema(ctx, exec.Programs().AcceptorProgramGUID)
				return respond(exec, raw, err, thread{"schemaJson", session.KeyProgramSpaceSchema})
			},
		},
		{
			Name:        PrepareProgramSpace,
			Label:       "Prepare Program Space - Acceptor",
			Description: "Encode the fixture record against the program space schema.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				record, err := json.Marshal(exec.Fixtures().ProgramSpaceRecord)
				if err != nil {
					return exec.Respond(nil, fmt.Errorf("encode program space record: %w", err))
				}
				raw, err := exec.Bridge().PrepareProgramSpace(ctx, bridge.PrepareProgramSpaceRequest{
					Schema:           exec.String(session.KeyProgramSpaceSchema),
					ProgramGUID:      exec.Programs().AcceptorProgramGUID,
					ProgramSpaceData: string(record),
				})
				return respond(exec, raw, err)
			},
		},
		{
			Name:        WriteToProgramSpace,
			Label:       "Write To Program Space - Acceptor",
			Description: "Write the prepared program space output to the card.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				var output json.RawMessage
				if prepared, ok := exec.Get(operation.ResponseKey(PrepareProgramSpace)); ok {
					output, _ = bridge.DataField(prepared, "output")
				}
				raw, err := exec.Bridge().WriteToProgramSpace(ctx, bridge.ProgramSpaceWriteRequest{
					Data:        output,
					ProgramGUID: exec.Programs().AcceptorProgramGUID,
					RID:         exec.String(session.KeyAccRID),
				})
				return respond(exec, raw, err)
			},
		},
	}
}
