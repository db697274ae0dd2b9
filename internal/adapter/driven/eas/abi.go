package eas

// resolverABI covers the resolver lookups used to find a user's current
// attestation per schema.
const resolverABI = `[
	{
		"type": "function",
		"name": "userAttestations",
		"stateMutability": "view",
		"inputs": [
			{"name": "user", "type": "address"},
			{"name": "schema", "type": "bytes32"}
		],
		"outputs": [{"name": "", "type": "bytes32"}]
	},
	{
		"type": "function",
		"name": "userScorerAttestations",
		"stateMutability": "view",
		"inputs": [
			{"name": "user", "type": "address"},
			{"name": "scorerId", "type": "uint32"},
			{"name": "schema", "type": "bytes32"}
		],
		"outputs": [{"name": "", "type": "bytes32"}]
	}
]`

// easABI covers the attestation service's getAttestation call.
const easABI = `[
	{
		"type": "function",
		"name": "getAttestation",
		"stateMutability": "view",
		"inputs": [{"name": "uid", "type": "bytes32"}],
		"outputs": [
			{
				"name": "",
				"type": "tuple",
				"components": [
					{"name": "uid", "type": "bytes32"},
					{"name": "schema", "type": "bytes32"},
					{"name": "time", "type": "uint64"},
					{"name": "expirationTime", "type": "uint64"},
					{"name": "revocationTime", "type": "uint64"},
					{"name": "refUID", "type": "bytes32"},
					{"name": "recipient", "type": "address"},
					{"name": "attester", "type": "address"},
					{"name": "revocable", "type": "bool"},
					{"name": "data", "type": "bytes"}
				]
			}
		]
	}
]`
