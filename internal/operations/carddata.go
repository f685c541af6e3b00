package operations

import (
	"context"
	"encoding/base64"

	"github.com/kingrea/bridgera/internal/bridge"
	"github.com/kingrea/bridgera/internal/operation"
	"github.com/kingrea/bridgera/internal/session"
)

func cardDataOperations() []operation.Operation {
	return []operation.Operation{
		{
			Name:        WriteDataRecordToCard,
			Label:       "Write Data Record to Card",
			Description: "Write the fixture records into indexed card slots.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				records := exec.Fixtures().DataRecords
				chunks := make([]bridge.DataRecordChunk, 0, len(records))
				for i, record := range records {
					chunks = append(chunks, bridge.DataRecordChunk{
						Index: i,
						Chunk: base64.StdEncoding.EncodeToString([]byte(record)),
					})
				}
				raw, err := exec.Bridge().WriteDataRecord(ctx, bridge.DataRecordWriteRequest{
					AppDataRecord: chunks,
					ProgramGUID:   exec.Programs().AcceptorProgramGUID,
					RID:           exec.String(session.KeyAccRID),
				})
				return respond(exec, raw, err)
			},
		},
		{
			Name:        ReadDataRecordFromCard,
			Label:       "Read Data Record from Card",
			Description: "Read back the indexed card slots.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				indexes := make([]int, len(exec.Fixtures().DataRecords))
				for i := range indexes {
					indexes[i] = i
				}
				raw, err := exec.Bridge().ReadDataRecord(ctx, bridge.DataRecordReadRequest{
					Indexes:     indexes,
					ProgramGUID: exec.Programs().AcceptorProgramGUID,
					RID:         exec.String(session.KeyAccRID),
				})
				return respond(exec, raw, err)
			},
		},
		{
			Name:        WriteDataBlobToCard,
			Label:       "Write Data Blob to Card",
			Description: "Write the fixture blob to the shared card area.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().WriteDataBlob(ctx, bridge.DataBlobWriteRequest{
					IsShared:     true,
					AppDataBlock: base64.StdEncoding.EncodeToString([]byte(exec.Fixtures().DataBlob)),
					ProgramGUID:  exec.Programs().AcceptorProgramGUID,
					RID:          exec.String(session.KeyAccRID),
				})
				return respond(exec, raw, err)
			},
		},
		{
			Name:        ReadDataBlobFromCard,
			Label:       "Read Data Blob from Card",
			Description: "Read the shared card area.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().ReadDataBlob(ctx, bridge.DataBlobReadRequest{
					IsShared:    true,
					ProgramGUID: exec.Programs().AcceptorProgramGUID,
					RID:         exec.String(session.KeyAccRID),
				})
				return respond(exec, raw, err)
			},
		},
	}
}
