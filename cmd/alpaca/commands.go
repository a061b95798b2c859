package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Overmuse/alpaca/internal/model"
	"github.com/Overmuse/alpaca/internal/rest"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func accountCmd(a *app) *cobra.Command {
	var (
		configurations bool
		period         string
		timeframe      string
	)

	cmd := &cobra.Command{
		Use:   "account",
		Short: "Print the account, its configurations or its portfolio history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			switch {
			case configurations:
				cfg, err := a.client.GetAccountConfigurations(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cfg)
			case period != "" || timeframe != "":
				history, err := a.client.GetPortfolioHistory(ctx, rest.HistoryParams{
					Period:    period,
					Timeframe: timeframe,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), history)
			default:
				account, err := a.client.GetAccount(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), account)
			}
		},
	}

	cmd.Flags().BoolVar(&configurations, "configurations", false, "Print the account configurations")
	cmd.Flags().StringVar(&period, "history", "", "Print the portfolio history over this period (e.g. 1D, 1M)")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", "Resolution of the portfolio history (1Min, 5Min, 15Min, 1H, 1D)")
	return cmd
}

func ordersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List, submit and cancel orders",
	}
	cmd.AddCommand(
		ordersListCmd(a),
		ordersGetCmd(a),
		ordersSubmitCmd(a),
		ordersCancelCmd(a),
	)
	return cmd
}

func ordersListCmd(a *app) *cobra.Command {
	var (
		params  rest.ListOrdersParams
		symbols []string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params.Symbols = symbols
			orders, err := a.client.ListOrders(cmd.Context(), params)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), orders)
		},
	}

	cmd.Flags().StringVar(&params.Status, "status", rest.QueryOpen, "open, closed or all")
	cmd.Flags().IntVar(&params.Limit, "limit", 50, "Maximum number of orders (1-500)")
	cmd.Flags().StringVar(&params.Direction, "direction", "desc", "asc or desc")
	cmd.Flags().BoolVar(&params.Nested, "nested", false, "Include the legs of multi-leg orders")
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "Only orders for these symbols")
	return cmd
}

func ordersGetCmd(a *app) *cobra.Command {
	var nested bool

	cmd := &cobra.Command{
		Use:   "get <order-id>",
		Short: "Print one order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("order id %q: %w", args[0], err)
			}
			order, err := a.client.GetOrder(cmd.Context(), id, nested)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), order)
		},
	}

	cmd.Flags().BoolVar(&nested, "nested", false, "Include the legs of a multi-leg order")
	return cmd
}

func ordersSubmitCmd(a *app) *cobra.Command {
	var (
		qty           int64
		side          string
		kind          string
		tif           string
		limitPrice    string
		stopPrice     string
		extendedHours bool
		clientOrderID string
	)

	cmd := &cobra.Command{
		Use:   "submit <symbol>",
		Short: "Submit a simple order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			intent := model.NewOrderIntent(strings.ToUpper(args[0]))
			intent.Qty = qty
			intent.Side = model.Side(side)
			intent.Type = model.OrderKind(kind)
			intent.TimeInForce = model.TimeInForce(tif)
			intent.ExtendedHours = extendedHours
			intent.ClientOrderID = clientOrderID

			var err error
			if intent.LimitPrice, err = priceFlag("limit-price", limitPrice); err != nil {
				return err
			}
			if intent.StopPrice, err = priceFlag("stop-price", stopPrice); err != nil {
				return err
			}

			order, err := a.client.SubmitOrder(cmd.Context(), intent)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), order)
		},
	}

	cmd.Flags().Int64Var(&qty, "qty", 1, "Number of shares")
	cmd.Flags().StringVar(&side, "side", string(model.Buy), "buy or sell")
	cmd.Flags().StringVar(&kind, "type", string(model.Market), "market, limit, stop or stop_limit")
	cmd.Flags().StringVar(&tif, "time-in-force", string(model.GoodTilCanceled), "day, gtc, opg, cls, ioc or fok")
	cmd.Flags().StringVar(&limitPrice, "limit-price", "", "Limit price")
	cmd.Flags().StringVar(&stopPrice, "stop-price", "", "Stop price")
	cmd.Flags().BoolVar(&extendedHours, "extended-hours", false, "Allow execution outside regular hours")
	cmd.Flags().StringVar(&clientOrderID, "client-order-id", "", "Client order id, at most 48 characters")
	return cmd
}

func ordersCancelCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "cancel [order-id]",
		Short: "Cancel one order, or every open order with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				attempts, err := a.client.CancelAllOrders(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), attempts)
			}

			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("order id %q: %w", args[0], err)
			}
			if err := a.client.CancelOrder(cmd.Context(), id); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"id": id.String(), "status": "cancel requested"})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Cancel every open order")
	return cmd
}

func positionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions [symbol]",
		Short: "List open positions, or print one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				position, err := a.client.GetPosition(cmd.Context(), strings.ToUpper(args[0]))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), position)
			}
			positions, err := a.client.ListPositions(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), positions)
		},
	}
	cmd.AddCommand(positionsCloseCmd(a))
	return cmd
}

func positionsCloseCmd(a *app) *cobra.Command {
	var (
		all          bool
		cancelOrders bool
	)

	cmd := &cobra.Command{
		Use:   "close [symbol]",
		Short: "Liquidate one position, or every position with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				attempts, err := a.client.CloseAllPositions(cmd.Context(), cancelOrders)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), attempts)
			}
			order, err := a.client.ClosePosition(cmd.Context(), strings.ToUpper(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), order)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Close every open position")
	cmd.Flags().BoolVar(&cancelOrders, "cancel-orders", false, "With --all, cancel open orders first")
	return cmd
}

func assetsCmd(a *app) *cobra.Command {
	var params rest.AssetsParams

	cmd := &cobra.Command{
		Use:   "assets [symbol]",
		Short: "List tradable assets, or print one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				asset, err := a.client.GetAsset(cmd.Context(), strings.ToUpper(args[0]))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), asset)
			}
			assets, err := a.client.ListAssets(cmd.Context(), params)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), assets)
		},
	}

	cmd.Flags().StringVar(&params.Status, "status", "", "active or inactive")
	cmd.Flags().StringVar(&params.AssetClass, "class", "", "Asset class, e.g. us_equity")
	return cmd
}

func clockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clock",
		Short: "Print the market clock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			clock, err := a.client.GetClock(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), clock)
		},
	}
}

func calendarCmd(a *app) *cobra.Command {
	var start, end string

	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Print the trading days in a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, err := dateFlag("start", start)
			if err != nil {
				return err
			}
			to, err := dateFlag("end", end)
			if err != nil {
				return err
			}
			days, err := a.client.GetCalendar(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), days)
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "First date, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "Last date, YYYY-MM-DD")
	return cmd
}

func activitiesCmd(a *app) *cobra.Command {
	var (
		params rest.ActivitiesParams
		date   string
	)

	cmd := &cobra.Command{
		Use:   "activities",
		Short: "Print the account activity feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if params.Date, err = dateFlag("date", date); err != nil {
				return err
			}
			activities, err := a.client.GetAccountActivities(cmd.Context(), params)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), activities)
		},
	}

	cmd.Flags().StringSliceVar(&params.ActivityTypes, "types", nil, "Activity types, e.g. FILL,DIV")
	cmd.Flags().StringVar(&date, "date", "", "Only activities on this date, YYYY-MM-DD")
	cmd.Flags().StringVar(&params.Direction, "direction", "", "asc or desc")
	cmd.Flags().IntVar(&params.PageSize, "page-size", 0, "Maximum number of entries")
	cmd.Flags().StringVar(&params.PageToken, "page-token", "", "Id of the last entry of the previous page")
	return cmd
}

func priceFlag(name, value string) (*decimal.Decimal, error) {
	if value == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("--%s %q: %w", name, value, err)
	}
	return &d, nil
}

func dateFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s %q: %w", name, value, err)
	}
	return t, nil
}
