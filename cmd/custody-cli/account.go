package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-custody/internal/ledger"
	"github.com/Klingon-tech/klingnet-custody/internal/rpc"
	"github.com/Klingon-tech/klingnet-custody/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-custody/internal/settlement"
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// ── wallet / balance / deposit ─────────────────────────────────────────

func cmdWallet(client *rpcclient.Client, user string) {
	var w rpc.WalletResult
	if err := client.Call("custody_getWallet", rpc.UserParam{UserID: user}, &w); err != nil {
		fatalRPC("custody_getWallet", err)
	}
	fmt.Printf("User:     %s\n", w.UserID)
	fmt.Printf("Address:  %s\n", w.Address)
	fmt.Printf("PubKey:   %s\n", w.PublicKey)
	fmt.Printf("Path:     %s\n", w.DerivationPath)
}

func cmdBalance(client *rpcclient.Client, user string) {
	var b settlement.Balances
	if err := client.Call("custody_getCreditBalance", rpc.UserParam{UserID: user}, &b); err != nil {
		fatalRPC("custody_getCreditBalance", err)
	}
	printBalances(b)
}

func cmdDeposit(client *rpcclient.Client, user string) {
	var b settlement.Balances
	if err := client.Call("custody_confirmDeposit", rpc.UserParam{UserID: user}, &b); err != nil {
		fatalRPC("custody_confirmDeposit", err)
	}
	fmt.Printf("Deposited: %s KGX\n", b.Deposited)
	printBalances(b)
}

func printBalances(b settlement.Balances) {
	fmt.Printf("User:      %s (%s)\n", b.UserID, b.PlanTier)
	fmt.Printf("Address:   %s\n", b.Address)
	fmt.Printf("Credits:   %s KGX\n", b.CreditBalance)
	fmt.Printf("On chain:  %s KGX\n", b.ObservedChainBalance)
	if b.FeeCredit > 0 {
		fmt.Printf("Fee paid:  %s KGX\n", b.FeeCredit)
	}
}

// ── withdraw / purchase / payfee ───────────────────────────────────────

func cmdWithdraw(client *rpcclient.Client, user string, args []string) {
	fs := flag.NewFlagSet("withdraw", flag.ExitOnError)
	amountStr := fs.String("amount", "", "Amount in KGX")
	fs.Parse(args)

	amount := mustAmount("withdraw", *amountStr)
	var res rpc.TxResult
	if err := client.Call("custody_withdraw", rpc.AmountParam{UserID: user, Amount: amount}, &res); err != nil {
		fatalRPC("custody_withdraw", err)
	}
	printTx(res.Transaction)
}

func cmdPurchase(client *rpcclient.Client, user string, args []string) {
	fs := flag.NewFlagSet("purchase", flag.ExitOnError)
	booster := fs.String("booster", "", "Booster ID")
	amountStr := fs.String("amount", "", "Price in KGX")
	external := fs.Bool("external", false, "Paid off-ledger")
	ref := fs.String("ref", "", "External payment reference")
	fs.Parse(args)

	if *booster == "" {
		fatal("Usage: custody-cli purchase --booster <id> --amount <amt> [--external --ref <id>]")
	}
	params := rpc.PurchaseParam{
		UserID:    user,
		BoosterID: *booster,
		Amount:    mustAmount("purchase", *amountStr),
		Source:    paymentSource(*external),
		Reference: *ref,
	}
	var res rpc.TxResult
	if err := client.Call("custody_purchase", params, &res); err != nil {
		fatalRPC("custody_purchase", err)
	}
	printTx(res.Transaction)
}

func cmdPayFee(client *rpcclient.Client, user string, args []string) {
	fs := flag.NewFlagSet("payfee", flag.ExitOnError)
	amountStr := fs.String("amount", "", "Fee in KGX")
	external := fs.Bool("external", false, "Paid off-ledger")
	ref := fs.String("ref", "", "External payment reference")
	fs.Parse(args)

	params := rpc.PayFeeParam{
		UserID:    user,
		Amount:    mustAmount("payfee", *amountStr),
		Source:    paymentSource(*external),
		Reference: *ref,
	}
	var res rpc.TxResult
	if err := client.Call("custody_payFee", params, &res); err != nil {
		fatalRPC("custody_payFee", err)
	}
	printTx(res.Transaction)
}

// ── history / boosters ─────────────────────────────────────────────────

func cmdHistory(client *rpcclient.Client, user string, args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Maximum records")
	fs.Parse(args)

	var res rpc.TxListResult
	if err := client.Call("custody_getTransactions", rpc.HistoryParam{UserID: user, Limit: *limit}, &res); err != nil {
		fatalRPC("custody_getTransactions", err)
	}
	if len(res.Transactions) == 0 {
		fmt.Println("No transactions.")
		return
	}
	for _, tx := range res.Transactions {
		fmt.Println(txLine(tx))
	}
}

func cmdBoosters(client *rpcclient.Client, user string) {
	var res rpc.GrantsResult
	if err := client.Call("custody_getBoosters", rpc.UserParam{UserID: user}, &res); err != nil {
		fatalRPC("custody_getBoosters", err)
	}
	fmt.Printf("Active multiplier: %.2fx\n", res.Multiplier)
	for _, g := range res.Grants {
		expiry := "never"
		if g.ExpiresAt != nil {
			expiry = g.ExpiresAt.Format(time.RFC3339)
		}
		if g.OneShot {
			expiry = "next accrual"
		}
		fmt.Printf("  %-16s %.2fx  expires %s\n", g.BoosterID, g.Multiplier, expiry)
	}
}

// ── admin ───────────────────────────────────────────────────────────────

func cmdCatalog(client *rpcclient.Client) {
	var res rpc.BoosterListResult
	if err := client.Call("custody_listBoosters", nil, &res); err != nil {
		fatalRPC("custody_listBoosters", err)
	}
	if len(res.Boosters) == 0 {
		fmt.Println("No boosters.")
		return
	}
	for _, b := range res.Boosters {
		fmt.Printf("  %-16s %-24s %.2fx  %s KGX  %s\n", b.ID, b.Name, b.Multiplier, b.Price, b.Type)
	}
}

func cmdBoosterCreate(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("booster-create", flag.ExitOnError)
	id := fs.String("id", "", "Booster ID")
	name := fs.String("name", "", "Display name")
	desc := fs.String("description", "", "Description")
	mult := fs.Float64("multiplier", 0, "Accrual multiplier (>1)")
	priceStr := fs.String("price", "", "Price in KGX")
	typ := fs.String("type", string(ledger.BoosterPermanent), "oneTime, duration or permanent")
	duration := fs.Duration("duration", 0, "Grant lifetime for duration boosters")
	fs.Parse(args)

	if *id == "" || *name == "" {
		fatal("Usage: custody-cli booster-create --id <id> --name <n> --multiplier <x> --price <amt> --type <t>")
	}
	params := rpc.CreateBoosterParam{
		ID:          *id,
		Name:        *name,
		Description: *desc,
		Multiplier:  *mult,
		Price:       mustAmount("booster-create", *priceStr),
		Type:        ledger.BoosterType(*typ),
		DurationSec: int64(duration.Seconds()),
	}
	var b ledger.Booster
	if err := client.Call("custody_createBooster", params, &b); err != nil {
		fatalRPC("custody_createBooster", err)
	}
	fmt.Printf("Booster %s saved.\n", b.ID)
}

func cmdHouse(client *rpcclient.Client) {
	var res rpc.HouseWalletResult
	if err := client.Call("custody_getHouseWallet", nil, &res); err != nil {
		fatalRPC("custody_getHouseWallet", err)
	}
	fmt.Printf("Address:  %s\n", res.Address)
	fmt.Printf("PubKey:   %s\n", res.PublicKey)
	fmt.Printf("Path:     %s\n", res.DerivationPath)
}

func cmdSweep(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	user := fs.String("user", "", "User ID")
	amountStr := fs.String("amount", "", "Amount in KGX (default: everything)")
	fs.Parse(args)

	if *user == "" {
		fatal("Usage: custody-cli sweep --user <id> [--amount <amt>]")
	}
	params := rpc.SweepParam{UserID: *user}
	if *amountStr != "" {
		params.Amount = mustAmount("sweep", *amountStr)
	}
	var res rpc.TxResult
	if err := client.Call("custody_sweep", params, &res); err != nil {
		fatalRPC("custody_sweep", err)
	}
	printTx(res.Transaction)
}

func cmdReveal(client *rpcclient.Client) {
	var res rpc.MnemonicResult
	if err := client.Call("custody_revealMnemonic", nil, &res); err != nil {
		fatalRPC("custody_revealMnemonic", err)
	}
	fmt.Println(res.Mnemonic)
}

// ── Formatting helpers ─────────────────────────────────────────────────

func mustAmount(cmd, s string) types.Amount {
	if s == "" {
		fatal("%s: --amount is required", cmd)
	}
	amount, err := types.ParseAmount(s)
	if err != nil {
		fatal("%s: invalid amount %q: %v", cmd, s, err)
	}
	return amount
}

func paymentSource(external bool) string {
	if external {
		return "external"
	}
	return "ledger"
}

func printTx(tx *ledger.Transaction) {
	if tx == nil {
		return
	}
	fmt.Printf("ID:        %s\n", tx.ID)
	fmt.Printf("Kind:      %s\n", tx.Kind)
	fmt.Printf("Status:    %s\n", tx.Status)
	fmt.Printf("Amount:    %s KGX\n", tx.Amount)
	fmt.Printf("Balance:   %s KGX\n", tx.BalanceAfter)
	if tx.FeeConsumed > 0 {
		fmt.Printf("Fee:       %s KGX\n", tx.FeeConsumed)
	}
	if tx.ConfirmationID != "" {
		fmt.Printf("Transfer:  %s\n", tx.ConfirmationID)
	}
	if tx.Description != "" {
		fmt.Printf("Note:      %s\n", tx.Description)
	}
}

// txLine renders one history row.
func txLine(tx *ledger.Transaction) string {
	sign := "+"
	delta := tx.Delta
	if delta < 0 {
		sign = "-"
		delta = -delta
	}
	return fmt.Sprintf("%s  %-10s %-8s %s%s KGX  -> %s",
		tx.CreatedAt.Format("2006-01-02 15:04:05"), tx.Kind, tx.Status,
		sign, types.Amount(delta), tx.BalanceAfter)
}
