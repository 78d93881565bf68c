package host

import (
	"CarbonLedger/internal/ledger"
)

// Key layout
//
//	i/<contract>               instance record
//	l/<contract>/supply        token total supply
//	l/<contract>/b/<address>   token balance
//	c/<contract>/commitment    commitment record
//	m/<name>                   core metadata (sequence, state hash)
func instanceKey(c ledger.ContractID) []byte {
	return []byte("i/" + string(c))
}

func supplyKey(c ledger.ContractID) []byte {
	return []byte("l/" + string(c) + "/supply")
}

func balancePrefix(c ledger.ContractID) []byte {
	return []byte("l/" + string(c) + "/b/")
}

func balanceKey(c ledger.ContractID, a ledger.Address) []byte {
	return append(balancePrefix(c), string(a)...)
}

func commitmentKey(c ledger.ContractID) []byte {
	return []byte("c/" + string(c) + "/commitment")
}

func metaKey(name string) []byte {
	return []byte("m/" + name)
}

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p []byte) []byte {
	end := make([]byte, len(p))
	copy(end, p)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
