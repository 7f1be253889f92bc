package ledger

import (
	"fmt"
)

// Key layout:
//
//	a/<user>            -> Account
//	w/<user>            -> Wallet
//	i/<index %08x>      -> user ID holding the derivation index
//	t/<txID>            -> Transaction
//	h/<user>/<seq %016x> -> txID, per-user history in insertion order
//	g/<user>/<grantID>  -> BoosterGrant
//	b/<boosterID>       -> Booster
var (
	prefixAccount = []byte("a/")
	prefixWallet  = []byte("w/")
	prefixIndex   = []byte("i/")
	prefixTx      = []byte("t/")
	prefixHistory = []byte("h/")
	prefixGrant   = []byte("g/")
	prefixBooster = []byte("b/")
)

func join(prefix []byte, parts ...string) []byte {
	key := append([]byte(nil), prefix...)
	for i, p := range parts {
		if i > 0 {
			key = append(key, '/')
		}
		key = append(key, p...)
	}
	return key
}

func accountKey(userID string) []byte { return join(prefixAccount, userID) }
func walletKey(userID string) []byte  { return join(prefixWallet, userID) }
func indexKey(idx uint32) []byte      { return join(prefixIndex, fmt.Sprintf("%08x", idx)) }
func txKey(id string) []byte          { return join(prefixTx, id) }
func boosterKey(id string) []byte     { return join(prefixBooster, id) }

func historyKey(userID string, seq uint64) []byte {
	return join(prefixHistory, userID, fmt.Sprintf("%016x", seq))
}

func historyPrefix(userID string) []byte { return join(prefixHistory, userID, "") }

func grantKey(userID, grantID string) []byte { return join(prefixGrant, userID, grantID) }
func grantPrefix(userID string) []byte       { return join(prefixGrant, userID, "") }
