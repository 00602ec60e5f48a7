package chain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Deployment is a deployed contract described by a {"address", "abi"} JSON file.
type Deployment struct {
	Name    string
	Address common.Address
	ABI     abi.ABI
}

type deploymentFile struct {
	Address string          `json:"address"`
	ABI     json.RawMessage `json:"abi"`
}

func LoadDeployment(path string) (Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Deployment{}, err
	}
	var file deploymentFile
	if err := json.Unmarshal(data, &file); err != nil {
		return Deployment{}, fmt.Errorf("parse deployment %s: %w", path, err)
	}
	if !common.IsHexAddress(file.Address) {
		return Deployment{}, fmt.Errorf("deployment %s: invalid address %q", path, file.Address)
	}
	if len(file.ABI) == 0 {
		return Deployment{}, fmt.Errorf("deployment %s: abi missing", path)
	}
	parsed, err := abi.JSON(bytes.NewReader(file.ABI))
	if err != nil {
		return Deployment{}, fmt.Errorf("parse abi %s: %w", path, err)
	}
	return Deployment{
		Name:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Address: common.HexToAddress(file.Address),
		ABI:     parsed,
	}, nil
}

// MarketDeploymentPath is the deployment file of the market contract for symbol.
func MarketDeploymentPath(dir, symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", errors.New("market symbol is required")
	}
	return filepath.Join(dir, "PerpdexMarket"+symbol+".json"), nil
}

func ExchangeDeploymentPath(dir string) string {
	return filepath.Join(dir, "PerpdexExchange.json")
}
