package operations

import (
	"context"
	"encoding/json"

	"github.com/kingrea/bridgera/internal/bridge"
	"github.com/kingrea/bridgera/internal/operation"
	"github.com/kingrea/bridgera/internal/session"
)

const (
	operationModeFull = "FULL"
	consentGranted    = 1
)

// thread maps a payload.data field of a successful response to a state key.
type thread struct {
	field string
	key   string
}

func respond(exec *operation.Exec, raw json.RawMessage, err error, threads ...thread) operation.Outcome {
	outcome := exec.Respond(raw, err)
	if outcome != operation.OutcomeSuccess {
		return outcome
	}
	for _, t := range threads {
		exec.Thread(raw, t.field, t.key)
	}
	return outcome
}

func identityOperations() []operation.Operation {
	return []operation.Operation{
		{
			Name:        SaveBiometricsConsent,
			Label:       "Biometrics consent - CM",
			Description: "Record the holder's biometric consent.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().SaveBiometricsConsent(ctx, bridge.ConsentRequest{
					BridgeRAEncPublicKey: exec.String(session.KeyBridgePublicKey),
					Granted:              consentGranted,
					ProgramGUID:          exec.Programs().CredentialProgramGUID,
				})
				return respond(exec, raw, err, thread{"consentId", session.KeyConsentID})
			},
		},
		{
			Name:        ReadRegistrationDataCM,
			Label:       "Read Registration Data - CM",
			Description: "Read the digital id registered with the credential program.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().ReadRegistrationData(ctx, exec.Programs().CredentialProgramGUID)
				return respond(exec, raw, err, thread{"rId", session.KeyCMRID})
			},
		},
		{
			Name:        ReadRegistrationDataAcceptor,
			Label:       "Read Registration Data - Acceptor",
			Description: "Read the digital id registered with the acceptor program.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().ReadRegistrationData(ctx, exec.Programs().AcceptorProgramGUID)
				return respond(exec, raw, err, thread{"rId", session.KeyAccRID})
			},
		},
		{
			Name:        CreateBasicDigitalID,
			Label:       "Create Basic D-ID",
			Description: "Create a digital id without biometrics.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().CreateBasicDigitalID(ctx, exec.Programs().CredentialProgramGUID)
				return respond(exec, raw, err, thread{"rId", session.KeyRID})
			},
		},
		{
			Name:        CreateBiometricDigitalID,
			Label:       "Create Biometric D-ID",
			Description: "Enrol the holder's biometrics under the recorded consent.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().CreateBiometricDigitalID(ctx, bridge.BiometricEnrollRequest{
					ConsentID:          exec.String(session.KeyConsentID),
					Encrypt:            true,
					ForcedModalityFlag: true,
					OperationMode:      operationModeFull,
					ProgramGUID:        exec.Programs().CredentialProgramGUID,
				})
				return respond(exec, raw, err)
			},
		},
		{
			Name:        IdentifyBiometricDigitalID,
			Label:       "Identify Biometric D-ID",
			Description: "Identify the holder by biometrics.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().IdentifyBiometricDigitalID(ctx, bridge.IdentifyRequest{
					ConsentID:               exec.String(session.KeyConsentID),
					ForcedModalityFlag:      true,
					CacheHashesIfIdentified: true,
					Modality:                exec.Fixtures().Modalities,
					ProgramGUID:             exec.Programs().CredentialProgramGUID,
				})
				return respond(exec, raw, err)
			},
		},
		{
			Name:        WriteDigitalID,
			Label:       "Write D-ID",
			Description: "Write the digital id to the card.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().WriteDigitalID(ctx, exec.Programs().CredentialProgramGUID, exec.String(session.KeyRID))
				return respond(exec, raw, err, thread{"consumerDeviceNumber", session.KeyConsumerDeviceID})
			},
		},
		{
			Name:        WritePasscode,
			Label:       "Write Passcode",
			Description: "Write the holder passcode to the card.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().WritePasscode(ctx, exec.Programs().CredentialProgramGUID, exec.String(session.KeyRID), exec.Fixtures().Passcode)
				return respond(exec, raw, err)
			},
		},
		{
			Name:        AddBiometricsToCpUserProfile,
			Label:       "Add Biometrics to CP User Profile",
			Description: "Attach enrolled biometrics to the card profile.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().AddBiometricsToProfile(ctx, bridge.ProfileBiometricsRequest{
					ConsentID:   exec.String(session.KeyConsentID),
					FormFactor:  exec.Fixtures().FormFactor,
					ProgramGUID: exec.Programs().CredentialProgramGUID,
					RID:         exec.String(session.KeyRID),
				})
				return respond(exec, raw, err)
			},
		},
		{
			Name:        VerifyPasscodeCM,
			Label:       "Verify Passcode - CM",
			Description: "Verify the passcode against the credential program.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().VerifyPasscode(ctx, exec.Programs().CredentialProgramGUID, exec.Fixtures().FormFactor, exec.Fixtures().Passcode)
				return respond(exec, raw, err, thread{"authToken", session.KeyAuthToken})
			},
		},
		{
			Name:        VerifyPasscodeAcceptor,
			Label:       "Verify Passcode - Acceptor",
			Description: "Verify the passcode against the acceptor program.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().VerifyPasscode(ctx, exec.Programs().AcceptorProgramGUID, exec.Fixtures().FormFactor, exec.Fixtures().Passcode)
				return respond(exec, raw, err, thread{"authToken", session.KeyAuthToken})
			},
		},
		{
			Name:        EnrollUserToProgram,
			Label:       "Enroll new user in Acceptor Program",
			Description: "Enroll the verified holder in the acceptor program.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().EnrollUserInProgram(ctx, bridge.EnrollRequest{
					AuthToken:   exec.String(session.KeyAuthToken),
					FormFactor:  exec.Fixtures().FormFactor,
					ProgramGUID: exec.Programs().AcceptorProgramGUID,
				})
				return respond(exec, raw, err)
			},
		},
		{
			Name:        GetConsumerDeviceNumber,
			Label:       "Read Consumer Device Number",
			Description: "Read the card number from the card.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().GetConsumerDeviceNumber(ctx, exec.Programs().CredentialProgramGUID)
				return respond(exec, raw, err)
			},
		},
		{
			Name:        VerifyBiometricDigitalID,
			Label:       "Verify Biometrics",
			Description: "Verify the holder's biometrics against the card.",
			Tier:        operation.TierGated,
			Execute: func(ctx context.Context, exec *operation.Exec) operation.Outcome {
				raw, err := exec.Bridge().VerifyBiometricDigitalID(ctx, bridge.BiometricVerifyRequest{
					ForcedModalityFlag: true,
					FormFactor:         exec.Fixtures().FormFactor,
					ProgramGUID:        exec.Programs().AcceptorProgramGUID,
				})
				return respond(exec, raw, err)
			},
		},
	}
}
