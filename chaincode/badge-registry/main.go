package main

import (
	"log"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/workshoplabs/badgeledger/chaincode/badge-registry/chaincode"
)

func main() {
	badgeChaincode, err := contractapi.NewChaincode(&chaincode.BadgeContract{})
	if err != nil {
		log.Panicf("Error creating badge-registry chaincode: %v", err)
	}

	if err := badgeChaincode.Start(); err != nil {
		log.Panicf("Error starting badge-registry chaincode: %v", err)
	}
}
