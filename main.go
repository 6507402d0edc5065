package main

import (
	"log"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/medledger-consortium/chaincode/health-records/contracts"
)

func main() {
	chaincode, err := contractapi.NewChaincode(
		new(contracts.HealthRecordContract),
		new(contracts.AccessControlContract),
		new(contracts.VerificationContract),
	)
	if err != nil {
		log.Panicf("Error creating health records chaincode: %v", err)
	}

	if err := chaincode.Start(); err != nil {
		log.Panicf("Error starting health records chaincode: %v", err)
	}
}
