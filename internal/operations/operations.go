// Package operations declares the console's built-in operation catalog.
package operations

import (
	"github.com/kingrea/bridgera/internal/operation"
)

// Operation names, in the order the console offers them.
const (
	GetInstanceIDCM              = "getInstanceIdCM"
	GetInstanceIDAcceptor        = "getInstanceIdAcceptor"
	ClearAppState                = "clearAppState"
	SaveBiometricsConsent        = "saveBiometricsConsent"
	ReadRegistrationDataCM       = "readRegistrationDataCM"
	ReadRegistrationDataAcceptor = "readRegistrationDataAcceptor"
	CreateBasicDigitalID         = "createBasicDigitalId"
	CreateBiometricDigitalID     = "createBiometricDigitalId"
	IdentifyBiometricDigitalID   = "identifyBiometricDigitalId"
	WriteDigitalID               = "writeDigitalId"
	WritePasscode                = "writePasscode"
	AddBiometricsToCpUserProfile = "addBiometricsToCpUserProfile"
	VerifyPasscodeCM             = "verifyPasscodeCM"
	VerifyPasscodeAcceptor       = "verifyPasscodeAcceptor"
	EnrollUserToProgram          = "enrollUserToProgram"
	GetConsumerDeviceNumber      = "getConsumerDeviceNumber"
	GetDataSchema                = "getDataSchema"
	PrepareProgramSpace          = "prepareProgramSpace"
	WriteToProgramSpace          = "writeToProgramSpace"
	WriteDataRecordToCard        = "writeDataRecordToCard"
	ReadDataRecordFromCard       = "readDataRecordFromCard"
	WriteDataBlobToCard          = "writeDataBlobToCard"
	ReadDataBlobFromCard         = "readDataBlobFromCard"
	CreateSva                    = "createSva"
	ReadSva                      = "readSva"
	ReadAllSvas                  = "readAllSvas"
	MutateSva                    = "mutateSva"
	VerifyBiometricDigitalID     = "verifyBiometricDigitalId"
	BatchOperation               = "batchOperation"
	StartDataSync                = "startDataSync"
	GetDataSyncWorkerStatus      = "getDataSyncWorkerStatus"
)

// order is the sequence in which the console offers operations.
var order = []string{
	GetInstanceIDCM,
	GetInstanceIDAcceptor,
	ClearAppState,
	SaveBiometricsConsent,
	ReadRegistrationDataCM,
	ReadRegistrationDataAcceptor,
	CreateBasicDigitalID,
	CreateBiometricDigitalID,
	IdentifyBiometricDigitalID,
	WriteDigitalID,
	WritePasscode,
	AddBiometricsToCpUserProfile,
	VerifyPasscodeCM,
	VerifyPasscodeAcceptor,
	EnrollUserToProgram,
	GetConsumerDeviceNumber,
	GetDataSchema,
	PrepareProgramSpace,
	WriteToProgramSpace,
	WriteDataRecordToCard,
	ReadDataRecordFromCard,
	WriteDataBlobToCard,
	ReadDataBlobFromCard,
	CreateSva,
	ReadSva,
	ReadAllSvas,
	MutateSva,
	VerifyBiometricDigitalID,
	BatchOperation,
	StartDataSync,
	GetDataSyncWorkerStatus,
}

// Builtins returns every built-in operation in declaration order.
func Builtins() []operation.Operation {
	byName := map[string]operation.Operation{}
	for _, group := range [][]operation.Operation{
		bootstrapOperations(),
		identityOperations(),
		programSpaceOperations(),
		cardDataOperations(),
		svaOperations(),
		syncOperations(),
	} {
		for _, op := range group {
			byName[op.Name] = op
		}
	}
	ops := make([]operation.Operation, 0, len(order))
	for _, name := range order {
		if op, ok := byName[name]; ok {
			ops = append(ops, op)
		}
	}
	return ops
}

// RegisterBuiltins installs the built-in operations into catalog.
func RegisterBuiltins(catalog *operation.Catalog) {
	if catalog == nil {
		return
	}
	catalog.MustRegister(Builtins()...)
}

// NewCatalog returns a catalog holding the built-in operations.
func NewCatalog() *operation.Catalog {
	catalog := operation.NewCatalog()
	RegisterBuiltins(catalog)
	return catalog
}
