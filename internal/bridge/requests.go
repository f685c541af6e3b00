package bridge

import "encoding/json"

// ConsentRequest records a biometric consent decision.
type ConsentRequest struct {
	BridgeRAEncPublicKey string `json:"bridgeRAEncPublicKey"`
	Granted              int    `json:"granted"`
	ProgramGUID          string `json:"programGuid"`
}

type BiometricEnrollRequest struct {
	ConsentID          string `json:"consentId"`
	Encrypt            bool   `json:"encrypt"`
	ForcedModalityFlag bool   `json:"forcedModalityFlag"`
	OperationMode      string `json:"operationMode"`
	ProgramGUID        string `json:"programGuid"`
}

type IdentifyRequest struct {
	ConsentID               string   `json:"consentId"`
	ForcedModalityFlag      bool     `json:"forcedModalityFlag"`
	CacheHashesIfIdentified bool     `json:"cacheHashesIfIdentified"`
	Modality                []string `json:"modality"`
	ProgramGUID             string   `json:"programGuid"`
}

type ProfileBiometricsRequest struct {
	ConsentID   string `json:"consentId"`
	FormFactor  string `json:"formFactor"`
	ProgramGUID string `json:"programGuid"`
	RID         string `json:"rId"`
}

type EnrollRequest struct {
	AuthToken   string `json:"authToken"`
	FormFactor  string `json:"formFactor"`
	ProgramGUID string `json:"programGuid"`
}

// PrepareProgramSpaceRequest encodes a record against a program space schema.
// ProgramSpaceData is the record serialized as a JSON string.
type PrepareProgramSpaceRequest struct {
	Schema           string `json:"schema"`
	ProgramGUID      string `json:"programGuid"`
	ProgramSpaceData string `json:"programSpaceData"`
}

// ProgramSpaceWriteRequest writes the output of PrepareProgramSpace to a card.
type ProgramSpaceWriteRequest struct {
	Data        json.RawMessage `json:"data"`
	ProgramGUID string          `json:"programGuid"`
	RID         string          `json:"rId"`
}

// DataRecordChunk is one indexed, base64 encoded record slot.
type DataRecordChunk struct {
	Index int    `json:"index"`
	Chunk string `json:"chunk"`
}

type DataRecordWriteRequest struct {
	AppDataRecord []DataRecordChunk `json:"appDataRecord"`
	ProgramGUID   string            `json:"programGuid"`
	RID           string            `json:"rId"`
}

type DataRecordReadRequest struct {
	Indexes     []int  `json:"indexes"`
	ProgramGUID string `json:"programGuid"`
	RID         string `json:"rId"`
}

type DataBlobWriteRequest struct {
	IsShared     bool   `json:"isShared"`
	AppDataBlock string `json:"appDataBlock"`
	ProgramGUID  string `json:"programGuid"`
	RID          string `json:"rId"`
}

type DataBlobReadRequest struct {
	IsShared    bool   `json:"isShared"`
	ProgramGUID string `json:"programGuid"`
	RID         string `json:"rId"`
}

// SVAData describes a stored value account to create.
type SVAData struct {
	PurseSubType string `json:"purseSubType"`
	SVAUnit      string `json:"svaUnit"`
}

type SVACreateRequest struct {
	IsProgramSpace bool    `json:"isProgramSpace"`
	ProgramGUID    string  `json:"programGuid"`
	RID            string  `json:"rId"`
	SVAData        SVAData `json:"svaData"`
}

type SVAReadRequest struct {
	IsProgramSpace bool   `json:"isProgramSpace"`
	ProgramGUID    string `json:"programGuid"`
	RID            string `json:"rId"`
	SVAUnit        string `json:"svaUnit"`
}

type SVAListRequest struct {
	IsProgramSpace bool   `json:"isProgramSpace"`
	ProgramGUID    string `json:"programGuid"`
	RID            string `json:"rId"`
}

// SVA mutation types.
const (
	SVAIncrease = "INCREASE"
	SVADecrease = "DECREASE"
)

type SVAOperation struct {
	Amount        int    `json:"amount"`
	OperationType string `json:"operationType"`
	SVAUnit       string `json:"svaUnit"`
}

type SVAMutateRequest struct {
	IsProgramSpace bool         `json:"isProgramSpace"`
	ProgramGUID    string       `json:"programGuid"`
	RID            string       `json:"rId"`
	SVAOperation   SVAOperation `json:"svaOperation"`
}

type BiometricVerifyRequest struct {
	ForcedModalityFlag bool   `json:"forcedModalityFlag"`
	FormFactor         string `json:"formFactor"`
	ProgramGUID        string `json:"programGuid"`
}

// Batch action codes understood by BatchOperation.
const (
	BatchVerifyPasscode = "1038"
	BatchReadSVA        = "1033"
)

// BatchStep is one sub-operation of a batch; steps run in order.
type BatchStep struct {
	Action  string         `json:"actions"`
	Payload map[string]any `json:"payload"`
}

// BatchRequest runs several card operations in one round trip.
type BatchRequest struct {
	ShouldContinueOnError bool        `json:"shouldContinueOnError"`
	ReliantAppInstanceID  string      `json:"reliantAppInstanceId"`
	ProgramGUID           string      `json:"programGuid"`
	Operations            []BatchStep `json:"operations"`
}
