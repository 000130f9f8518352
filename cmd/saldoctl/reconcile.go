package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"saldo/internal/core"
	"saldo/internal/reconcile"
)

// reconcileFile is the JSON accepted by the reconcile command. It matches
// the body of POST /api/v1/reconcile.
type reconcileFile struct {
	AccountID       string                 `json:"accountId"`
	Accounts        []core.Account         `json:"accounts"`
	Transactions    []core.Transaction     `json:"transactions"`
	Snapshots       []core.BalanceSnapshot `json:"snapshots"`
	GapTransactions []core.Transaction     `json:"gapTransactions"`
	TZ              string                 `json:"tz"`
}

type reconcileOutput struct {
	reconcile.Result
	Ledger reconcile.Ledger `json:"ledger"`
}

func newReconcileCmd() *cobra.Command {
	var (
		input   string
		tz      string
		account string
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile an account from a JSON export",
		Long: `Reads accounts, transactions and balance snapshots from a JSON file
(or stdin with --input -), rebuilds the running balance of one account and
prints the balance after each transaction, the divergent snapshots and the
ledger grouped by day.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readReconcileFile(cmd, input)
			if err != nil {
				return err
			}
			if account != "" {
				in.AccountID = account
			}
			if strings.TrimSpace(in.AccountID) == "" {
				return core.ErrEmptyAccount
			}
			if tz == "" {
				tz = in.TZ
			}
			loc := time.UTC
			if tz != "" {
				if loc, err = time.LoadLocation(tz); err != nil {
					return fmt.Errorf("unknown time zone %q: %w", tz, err)
				}
			}

			rin := reconcile.Input{
				AccountID:       in.AccountID,
				Transactions:    in.Transactions,
				Snapshots:       in.Snapshots,
				GapTransactions: in.GapTransactions,
				Accounts:        reconcile.IndexAccounts(in.Accounts),
			}
			res := reconcile.Reconcile(rin)
			if n := len(res.Divergences); n > 0 {
				cmdLogger(cmd).Warn("Snapshots diverge from the calculated balance",
					"account_id", in.AccountID, "count", n)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(reconcileOutput{Result: res, Ledger: reconcile.GroupByDay(rin, res, loc)})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON file to reconcile, - for stdin")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA time zone for day grouping (default from file, else UTC)")
	cmd.Flags().StringVarP(&account, "account", "a", "", "account id, overrides accountId in the file")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func readReconcileFile(cmd *cobra.Command, path string) (reconcileFile, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return reconcileFile{}, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	var in reconcileFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			return reconcileFile{}, errors.New("input is empty")
		}
		return reconcileFile{}, fmt.Errorf("decode input: %w", err)
	}
	return in, nil
}
