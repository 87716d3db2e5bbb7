package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"token-ledger/internal/config"
	"token-ledger/internal/domain"
	"token-ledger/internal/ledger"
)

func (a *app) initCmd() *cobra.Command {
	var genesisPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the token from a genesis document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			genesis, err := config.LoadGenesis(genesisPath)
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(svc *ledger.Service) error {
				if err := svc.Init(cmd.Context(), genesis.InitRequest()); err != nil {
					return err
				}
				meta, err := svc.TokenInfo(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, meta)
			})
		},
	}
	cmd.Flags().StringVar(&genesisPath, "genesis", "", "Path to the genesis YAML document")
	_ = cmd.MarkFlagRequired("genesis")

	return cmd
}

// mintOutput mirrors the body of a successful POST /v1/mint.
type mintOutput struct {
	Event      *domain.MintEvent  `json:"event"`
	Attributes []domain.Attribute `json:"attributes"`
}

func (a *app) mintCmd() *cobra.Command {
	var sender, to, amount string

	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint new units to a recipient as the minter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			value, err := domain.ParseAmount(amount)
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(svc *ledger.Service) error {
				event, err := svc.Mint(cmd.Context(), sender, to, value)
				if err != nil {
					return err
				}
				return printJSON(cmd, mintOutput{Event: event, Attributes: event.Attributes()})
			})
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "", "Address of the caller")
	cmd.Flags().StringVar(&to, "to", "", "Recipient address")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount in base units")
	for _, name := range []string{"sender", "to", "amount"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func (a *app) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance ADDRESS",
		Short: "Show the balance of an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *ledger.Service) error {
				balance, err := svc.Balance(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]domain.Amount{"balance": balance})
			})
		},
	}
}

func (a *app) tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Show token metadata and total supply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(svc *ledger.Service) error {
				meta, err := svc.TokenInfo(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, meta)
			})
		},
	}
}

func (a *app) minterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "minter",
		Short: "Show the minter and its cap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(svc *ledger.Service) error {
				minter, err := svc.MinterInfo(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]*domain.Minter{"minter": minter})
			})
		},
	}
}

func (a *app) accountsCmd() *cobra.Command {
	var (
		startAfter string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List account addresses in ascending order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(svc *ledger.Service) error {
				accounts, err := svc.AllAccounts(cmd.Context(), startAfter, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string][]string{"accounts": accounts})
			})
		},
	}
	cmd.Flags().StringVar(&startAfter, "start-after", "", "Only list addresses after this one")
	cmd.Flags().IntVar(&limit, "limit", ledger.DefaultLimit, fmt.Sprintf("Page size (max %d)", ledger.MaxLimit))

	return cmd
}

func (a *app) checkSupplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-supply",
		Short: "Verify that balances sum to the recorded total supply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(svc *ledger.Service) error {
				report, err := svc.CheckSupply(cmd.Context())
				if err != nil && !errors.Is(err, ledger.ErrSupplyMismatch) {
					return err
				}
				if perr := printJSON(cmd, report); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
