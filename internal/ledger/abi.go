package ledger

// ABI of the deployed PGHD contract. The contract is assumed already
// deployed; its address comes from configuration.
const contractABI = `[
  {
    "type": "function",
    "name": "updateData",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "name", "type": "string"},
      {"name": "age", "type": "uint256"},
      {"name": "height", "type": "uint256"},
      {"name": "weight", "type": "uint256"},
      {"name": "systolic", "type": "uint256"},
      {"name": "diastolic", "type": "uint256"},
      {"name": "bloodSugar", "type": "uint256"},
      {"name": "symptoms", "type": "string"},
      {"name": "diet", "type": "string"},
      {"name": "timestamp", "type": "uint256"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "readData",
    "stateMutability": "view",
    "inputs": [{"name": "patient", "type": "address"}],
    "outputs": [
      {"name": "name", "type": "string"},
      {"name": "age", "type": "uint256"},
      {"name": "height", "type": "uint256"},
      {"name": "weight", "type": "uint256"},
      {"name": "systolic", "type": "uint256"},
      {"name": "diastolic", "type": "uint256"},
      {"name": "bloodSugar", "type": "uint256"},
      {"name": "symptoms", "type": "string"},
      {"name": "diet", "type": "string"},
      {"name": "timestamp", "type": "uint256"}
    ]
  },
  {
    "type": "function",
    "name": "getDataHistory",
    "stateMutability": "view",
    "inputs": [{"name": "patient", "type": "address"}],
    "outputs": [
      {
        "name": "",
        "type": "tuple[]",
        "components": [
          {"name": "name", "type": "string"},
          {"name": "age", "type": "uint256"},
          {"name": "height", "type": "uint256"},
          {"name": "weight", "type": "uint256"},
          {"name": "systolic", "type": "uint256"},
          {"name": "diastolic", "type": "uint256"},
          {"name": "bloodSugar", "type": "uint256"},
          {"name": "symptoms", "type": "string"},
          {"name": "diet", "type": "string"},
          {"name": "timestamp", "type": "uint256"}
        ]
      }
    ]
  },
  {
    "type": "function",
    "name": "getAccessRequests",
    "stateMutability": "view",
    "inputs": [{"name": "patient", "type": "address"}],
    "outputs": [
      {
        "name": "",
        "type": "tuple[]",
        "components": [
          {"name": "doctor", "type": "address"},
          {"name": "patient", "type": "address"},
          {"name": "status", "type": "uint8"},
          {"name": "grantedAt", "type": "uint256"},
          {"name": "revokedAt", "type": "uint256"}
        ]
      }
    ]
  },
  {
    "type": "function",
    "name": "getPreviousRequests",
    "stateMutability": "view",
    "inputs": [{"name": "patient", "type": "address"}],
    "outputs": [
      {
        "name": "",
        "type": "tuple[]",
        "components": [
          {"name": "doctor", "type": "address"},
          {"name": "patient", "type": "address"},
          {"name": "status", "type": "uint8"},
          {"name": "grantedAt", "type": "uint256"},
          {"name": "revokedAt", "type": "uint256"}
        ]
      }
    ]
  },
  {
    "type": "function",
    "name": "requestAccess",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "patient", "type": "address"}],
    "outputs": []
  },
  {
    "type": "function",
    "name": "grantAccess",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "doctor", "type": "address"},
      {"name": "timestamp", "type": "uint256"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "revokeAccess",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "doctor", "type": "address"},
      {"name": "timestamp", "type": "uint256"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "hasAccess",
    "stateMutability": "view",
    "inputs": [
      {"name": "patient", "type": "address"},
      {"name": "doctor", "type": "address"}
    ],
    "outputs": [{"name": "", "type": "bool"}]
  }
]`
