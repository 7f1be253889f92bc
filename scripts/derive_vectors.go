// derive_vectors.go prints the derivation vectors for a mnemonic and a list
// of user IDs. Used to pin the values in the keys and rpc tests.
// Usage: go run scripts/derive_vectors.go "<mnemonic>" <passphrase> <user>...
package main

import (
	"fmt"
	"os"

	"github.com/Klingon-tech/klingnet-custody/internal/keys"
)

func main() {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "usage: derive_vectors <mnemonic> <passphrase> <user>...")
		os.Exit(1)
	}
	ks := keys.New(keys.Config{})
	if err := ks.Init(os.Args[1], os.Args[2]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer ks.Shutdown()

	house, err := ks.HouseWallet()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("house path=%s pubkey=%s address=%s\n", house.Path, house.PublicKey, house.Address.Hex())

	for _, user := range os.Args[3:] {
		w, err := ks.DeriveWallet(user)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("%s index=%d path=%s pubkey=%s address=%s\n",
			user, w.Index, w.Path, w.PublicKey, w.Address.Hex())
	}
}
