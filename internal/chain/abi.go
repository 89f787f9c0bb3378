package chain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// 众筹工厂合约（注册表）内置ABI
const factoryABI = `[
	{
		"inputs": [],
		"name": "getAllCampaigns",
		"outputs": [{
			"components": [
				{"internalType": "address", "name": "campaignAddress", "type": "address"},
				{"internalType": "address", "name": "owner", "type": "address"},
				{"internalType": "string", "name": "name", "type": "string"},
				{"internalType": "uint256", "name": "creationTime", "type": "uint256"}
			],
			"internalType": "struct CrowdfundingFactory.Campaign[]",
			"name": "",
			"type": "tuple[]"
		}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "_user", "type": "address"}],
		"name": "getUserCampaigns",
		"outputs": [{
			"components": [
				{"internalType": "address", "name": "campaignAddress", "type": "address"},
				{"internalType": "address", "name": "owner", "type": "address"},
				{"internalType": "string", "name": "name", "type": "string"}
			],
			"internalType": "struct CrowdfundingFactory.UserCampaign[]",
			"name": "",
			"type": "tuple[]"
		}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "_owner", "type": "address"},
			{"internalType": "string", "name": "_name", "type": "string"},
			{"internalType": "string", "name": "_description", "type": "string"},
			{"internalType": "uint256", "name": "_goal", "type": "uint256"},
			{"internalType": "uint256", "name": "_durationInDays", "type": "uint256"}
		],
		"name": "createCampaign",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "campaignAddress", "type": "address"},
			{"indexed": true, "internalType": "address", "name": "owner", "type": "address"},
			{"indexed": false, "internalType": "string", "name": "name", "type": "string"},
			{"indexed": false, "internalType": "uint256", "name": "creationTime", "type": "uint256"}
		],
		"name": "CampaignCreated",
		"type": "event"
	}
]`

// 单个众筹合约内置ABI
const campaignABI = `[
	{"inputs": [], "name": "name", "outputs": [{"internalType": "string", "name": "", "type": "string"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "description", "outputs": [{"internalType": "string", "name": "", "type": "string"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "owner", "outputs": [{"internalType": "address", "name": "", "type": "address"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "goal", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "deadline", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "state", "outputs": [{"internalType": "enum Crowdfunding.CampaignState", "name": "", "type": "uint8"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "getContractBalance", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "donate", "outputs": [], "stateMutability": "payable", "type": "function"},
	{"inputs": [], "name": "withdraw", "outputs": [], "stateMutability": "nonpayable", "type": "function"}
]`

// LoadABI 从文件加载ABI，路径为空时使用内置ABI
//
// 文件可以是ABI数组，也可以是带 abi 字段的完整编译输出。
func LoadABI(path string, fallback string) (abi.ABI, error) {
	if path == "" {
		return abi.JSON(strings.NewReader(fallback))
	}

	abiData, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to load ABI from %s: %w", path, err)
	}
	return parseABI(abiData)
}

// parseABI 解析ABI数组或编译输出
func parseABI(abiData []byte) (abi.ABI, error) {
	var compiledOutput struct {
		ABI json.RawMessage `json:"abi"`
	}

	// 首先尝试解析为完整编译输出
	if err := json.Unmarshal(abiData, &compiledOutput); err == nil && compiledOutput.ABI != nil {
		parsed, err := abi.JSON(bytes.NewReader(compiledOutput.ABI))
		if err != nil {
			return abi.ABI{}, fmt.Errorf("failed to parse ABI from compiled output: %w", err)
		}
		return parsed, nil
	}

	parsed, err := abi.JSON(bytes.NewReader(abiData))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return parsed, nil
}
