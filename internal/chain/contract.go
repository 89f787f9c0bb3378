package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/blues/agapay/internal/logger"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Contract 合约工具类
type Contract struct {
	address common.Address      // 合约地址
	abi     abi.ABI             // 合约ABI
	name    string              // 合约名称
	bound   *bind.BoundContract // 绑定的合约调用器
}

// NewContract 创建合约实例
//
// transactor 为空时合约只读。
func NewContract(name string, address common.Address, parsedABI abi.ABI, caller bind.ContractCaller, transactor bind.ContractTransactor) *Contract {
	return &Contract{
		address: address,
		abi:     parsedABI,
		name:    name,
		bound:   bind.NewBoundContract(address, parsedABI, caller, transactor, nil),
	}
}

// GetAddress 获取合约地址
func (c *Contract) GetAddress() common.Address {
	return c.address
}

// GetABI 获取合约ABI
func (c *Contract) GetABI() abi.ABI {
	return c.abi
}

// GetName 获取合约名称
func (c *Contract) GetName() string {
	return c.name
}

// Call 调用只读方法
func (c *Contract) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", c.name, method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s.%s: empty result", c.name, method)
	}
	return out, nil
}

// Transact 发送交易
func (c *Contract) Transact(opts *bind.TransactOpts, method string, args ...interface{}) (*types.Transaction, error) {
	return c.bound.Transact(opts, method, args...)
}

// ParseEvent 解析事件日志
func (c *Contract) ParseEvent(log types.Log) (map[string]interface{}, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("log without topics in contract %s", c.name)
	}
	eventSignature := log.Topics[0].Hex()

	// 遍历ABI中的事件
	for eventName, event := range c.abi.Events {
		if event.ID.Hex() == eventSignature {
			return c.parseEvent(eventName, log, event)
		}
	}

	// 未知事件
	logger.Debug("Unknown event signature: %s in contract %s", eventSignature, c.name)
	return map[string]interface{}{
		"eventName":   "Unknown",
		"signature":   eventSignature,
		"contract":    c.name,
		"txHash":      log.TxHash.Hex(),
		"blockNumber": log.BlockNumber,
		"logIndex":    log.Index,
	}, nil
}

// parseEvent 解析事件
func (c *Contract) parseEvent(eventName string, log types.Log, event abi.Event) (map[string]interface{}, error) {
	result := make(map[string]interface{})
	result["eventName"] = eventName
	result["contract"] = c.name
	result["txHash"] = log.TxHash.Hex()
	result["blockNumber"] = log.BlockNumber
	result["logIndex"] = log.Index

	// 解析索引参数，topic 下标按索引参数的顺序递增
	topicIdx := 1
	for _, input := range event.Inputs {
		if !input.Indexed {
			continue
		}
		if topicIdx >= len(log.Topics) {
			break
		}
		result[input.Name] = parseTopicValue(log.Topics[topicIdx], input.Type)
		topicIdx++
	}

	// 解析非索引参数
	nonIndexedInputs := event.Inputs.NonIndexed()
	if len(log.Data) > 0 && len(nonIndexedInputs) > 0 {
		values, err := c.abi.Unpack(eventName, log.Data)
		if err != nil {
			logger.Warn("Failed to unpack non-indexed parameters of %s: %v", eventName, err)
		} else {
			for i, input := range nonIndexedInputs {
				if i < len(values) {
					result[input.Name] = values[i]
				}
			}
		}
	}

	return result, nil
}

// parseTopicValue 解析主题值
func parseTopicValue(topic common.Hash, t abi.Type) interface{} {
	switch t.T {
	case abi.UintTy, abi.IntTy:
		return new(big.Int).SetBytes(topic.Bytes())
	case abi.AddressTy:
		return common.BytesToAddress(topic.Bytes())
	case abi.BoolTy:
		return new(big.Int).SetBytes(topic.Bytes()).Sign() > 0
	case abi.FixedBytesTy:
		return topic.Bytes()
	default:
		return topic.Hex()
	}
}
