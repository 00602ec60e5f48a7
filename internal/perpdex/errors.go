package perpdex

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAlreadyFilled = errors.New("order already fully executed")
	ErrNotOwner      = errors.New("order not owned by trader")
	ErrNotFound      = errors.New("order does not exist")
	ErrNonceTooLow   = errors.New("nonce too low")
	ErrReverted      = errors.New("transaction reverted")
	ErrUnknownMarket = errors.New("unknown market")
	// ErrTxHashOrderID marks a CreateLimitOrder fallback id. It names the
	// transaction, not the order, so it cannot be cancelled directly.
	ErrTxHashOrderID = errors.New("order id is a transaction hash")
)

var revertReasons = []struct {
	fragment string
	sentinel error
}{
	{"OBL_CO: already fully executed", ErrAlreadyFilled},
	{"MOBL_CLO: enough mm", ErrNotOwner},
	{"RBTL_R: key not exist", ErrNotFound},
	{"nonce too low", ErrNonceTooLow},
}

// Classify tags err with the sentinel matching its revert reason or node
// message. Unrecognised errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, r := range revertReasons {
		if strings.Contains(msg, r.fragment) {
			if errors.Is(err, r.sentinel) {
				return err
			}
			return fmt.Errorf("%w: %w", r.sentinel, err)
		}
	}
	return err
}
