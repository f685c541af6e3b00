package scenario

import (
	"github.com/kingrea/bridgera/internal/operations"
)

// Builtin returns the scenarios shipped with the console. Files in the
// project's scenarios directory may override them by id.
func Builtin() []Scenario {
	return []Scenario{
		{
			ID:          "basic-card",
			Name:        "Basic card issuance",
			Description: "Bind, create a basic digital id, write it to the card and protect it with a passcode.",
			Steps: []Step{
				{Operation: operations.GetInstanceIDCM},
				{Operation: operations.CreateBasicDigitalID, DependsOn: []string{operations.GetInstanceIDCM}},
				{Operation: operations.WriteDigitalID, DependsOn: []string{operations.CreateBasicDigitalID}},
				{Operation: operations.WritePasscode, DependsOn: []string{operations.CreateBasicDigitalID}},
				{Operation: operations.VerifyPasscodeCM, DependsOn: []string{operations.WritePasscode}},
				{Operation: operations.GetConsumerDeviceNumber, DependsOn: []string{operations.WriteDigitalID}},
			},
		},
		{
			ID:          "card-storage",
			Name:        "Card data storage",
			Description: "Write and read back data records and a data blob.",
			Steps: []Step{
				{Operation: operations.GetInstanceIDCM},
				{Operation: operations.CreateBasicDigitalID, DependsOn: []string{operations.GetInstanceIDCM}},
				{Operation: operations.WriteDataRecordToCard, DependsOn: []string{operations.CreateBasicDigitalID}, ContinueOnFailure: true},
				{Operation: operations.ReadDataRecordFromCard, DependsOn: []string{operations.WriteDataRecordToCard}},
				{Operation: operations.WriteDataBlobToCard, DependsOn: []string{operations.CreateBasicDigitalID}},
				{Operation: operations.ReadDataBlobFromCard, DependsOn: []string{operations.WriteDataBlobToCard}},
			},
		},
		{
			ID:          "stored-value",
			Name:        "Stored value account",
			Description: "Create a stored value account and read it back.",
			Steps: []Step{
				{Operation: operations.GetInstanceIDCM},
				{Operation: operations.CreateBasicDigitalID, DependsOn: []string{operations.GetInstanceIDCM}},
				{Operation: operations.CreateSva, DependsOn: []string{operations.CreateBasicDigitalID}},
				{Operation: operations.ReadSva, DependsOn: []string{operations.CreateSva}},
				{Operation: operations.ReadAllSvas, DependsOn: []string{operations.CreateSva}},
			},
		},
	}
}
