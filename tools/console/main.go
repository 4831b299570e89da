// Command console is the player-side client: it issues actions against the
// server API and can animate a settlement's queues with the predictor.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"ownrealm/pkg/client"
	"ownrealm/pkg/game"
	"ownrealm/pkg/predictor"
	"ownrealm/pkg/types"
)

var (
	serverURL string
	api       *client.Client

	titleColor   = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen, color.Bold)
	infoColor    = color.New(color.FgYellow)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "console",
		Short: "OwnRealm player console",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			api = client.New(serverURL)
		},
		SilenceUsage: true,
	}
	defaultURL := "http://localhost:8080"
	if url := os.Getenv("OWNREALM_SERVER"); url != "" {
		defaultURL = url
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultURL, "Server base URL")

	rootCmd.AddCommand(
		statusCmd(), settlementsCmd(), showCmd(), queueCmd(),
		enqueueCmd("build", types.SubjectBuilding), enqueueCmd("research", types.SubjectResearch), trainCmd(),
		cancelCmd(), attackCmd(), travelCmd(), battlesCmd(), tradesCmd(),
		offersCmd(), offerCmd(), acceptCmd(), withdrawCmd(), sweepCmd(), watchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad id %q", s)
	}
	return id, nil
}

func render(header []string, rows [][]string) {
	table := tablewriter.NewTable(os.Stdout, tablewriter.WithHeader(header))
	for _, row := range rows {
		_ = table.Append(row)
	}
	_ = table.Render()
}

func fmtTime(t time.Time) string { return t.Local().Format("15:04:05") }

func fmtResources(r types.Resources) string {
	return fmt.Sprintf("%d wood / %d stone / %d ore", r.Wood, r.Stone, r.Ore)
}

func fmtUnits(units map[string]int) string {
	keys := make([]string, 0, len(units))
	for k := range units {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%d %s", units[k], game.DisplayName(k)))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

// --- Reads ---

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show world status",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := api.Status(cmd.Context())
			if err != nil {
				return err
			}
			titleColor.Printf("World %s\n", s.WorldID)
			fmt.Printf("Server time: %s  Tick: %d\n", s.ServerTime.Format(time.RFC3339), s.Tick)
			render([]string{"Settlements", "Open Queue", "Traveling", "Battles", "Trades"}, [][]string{{
				strconv.Itoa(s.Settlements), strconv.Itoa(s.OpenQueue), strconv.Itoa(s.Traveling),
				strconv.Itoa(s.Battles), strconv.Itoa(s.Trades),
			}})
			return nil
		},
	}
}

func settlementsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settlements",
		Short: "List settlements",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := api.Settlements(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(list))
			for _, s := range list {
				rows = append(rows, []string{strconv.FormatInt(s.ID, 10), s.Name, fmt.Sprintf("%d/%d", s.X, s.Y)})
			}
			render([]string{"ID", "Name", "Position"}, rows)
			return nil
		},
	}
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <settlement>",
		Short: "Show a settlement with its buildings, research and garrison",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := api.Settlement(cmd.Context(), id)
			if err != nil {
				return err
			}
			titleColor.Printf("%s (%d) at %d/%d\n", s.Name, s.ID, s.X, s.Y)
			r := s.Resources
			infoColor.Printf("%s | gold %d | settlers %d/%d | storage %d\n",
				fmtResources(r.Amounts()), r.Gold, r.FreeSettlers, r.MaxSettlers, r.StorageCapacity)
			fmt.Printf("Rates/h: wood %.0f stone %.0f ore %.0f\n\n", r.Rates.Wood, r.Rates.Stone, r.Rates.Ore)

			var rows [][]string
			for _, key := range game.BuildingKeys() {
				if lvl := s.Buildings[key]; lvl > 0 {
					rows = append(rows, []string{"building", game.DisplayName(key), strconv.Itoa(lvl)})
				}
			}
			for _, key := range game.ResearchKeys() {
				if lvl := s.Research[key]; lvl > 0 {
					rows = append(rows, []string{"research", game.DisplayName(key), strconv.Itoa(lvl)})
				}
			}
			for _, key := range game.UnitKeys() {
				if n := s.Units[key]; n > 0 {
					rows = append(rows, []string{"garrison", game.DisplayName(key), strconv.Itoa(n)})
				}
			}
			render([]string{"Kind", "Name", "Level/Count"}, rows)
			return nil
		},
	}
}

func queueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue <settlement>",
		Short: "Show open queue entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var rows [][]string
			for _, st := range types.AllSubjectTypes() {
				entries, err := api.Queue(cmd.Context(), id, st)
				if err != nil {
					return err
				}
				for _, e := range entries {
					rows = append(rows, []string{
						strconv.FormatInt(e.ID, 10), string(st), game.DisplayName(e.SubjectKey), strconv.Itoa(e.Target),
						fmtTime(e.StartTime), fmtTime(e.EndTime), fmt.Sprintf("%.1f%%", e.CompletionPercentage),
					})
				}
			}
			render([]string{"ID", "Queue", "Subject", "Target", "Start", "End", "Done"}, rows)
			return nil
		},
	}
}

func travelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "travel <settlement>",
		Short: "List orders traveling from or to a settlement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			orders, err := api.Traveling(cmd.Context(), id)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(orders))
			for _, o := range orders {
				cargo := fmtUnits(o.Payload.Units)
				if o.Kind == types.TravelTrade {
					cargo = fmtResources(o.Payload.Resources)
				}
				rows = append(rows, []string{
					strconv.FormatInt(o.ID, 10), string(o.Kind), fmt.Sprintf("%d -> %d", o.OriginID, o.DestinationID),
					cargo, fmtTime(o.ArrivalTime), time.Until(o.ArrivalTime).Round(time.Second).String(),
				})
			}
			render([]string{"ID", "Kind", "Route", "Cargo", "Arrives", "In"}, rows)
			return nil
		},
	}
}

func battlesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "battles <settlement>",
		Short: "Show battle history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			recs, err := api.Battles(cmd.Context(), id)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(recs))
			for _, b := range recs {
				rows = append(rows, []string{
					fmtTime(b.CreatedAt), fmt.Sprintf("%d vs %d", b.AttackerID, b.DefenderID), string(b.Winner),
					fmt.Sprintf("%.2f", b.RandomFactor), fmtUnits(b.AttackerLosses), fmtUnits(b.DefenderLosses),
					fmtResources(b.Plundered),
				})
			}
			render([]string{"Time", "Sides", "Winner", "Luck", "Attacker Lost", "Defender Lost", "Plunder"}, rows)
			return nil
		},
	}
}

func tradesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trades <settlement>",
		Short: "Show delivered trades",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			recs, err := api.Trades(cmd.Context(), id)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(recs))
			for _, tr := range recs {
				rows = append(rows, []string{
					fmtTime(tr.CreatedAt), fmt.Sprintf("%d -> %d", tr.SellerID, tr.BuyerID),
					fmtResources(tr.Resources), strconv.Itoa(tr.Gold),
				})
			}
			render([]string{"Time", "Seller -> Buyer", "Goods", "Gold"}, rows)
			return nil
		},
	}
}

func offersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "offers",
		Short: "List open market offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			offers, err := api.Offers(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(offers))
			for _, o := range offers {
				rows = append(rows, []string{
					strconv.FormatInt(o.ID, 10), strconv.FormatInt(o.SellerID, 10), fmtResources(o.Resources), strconv.Itoa(o.Price),
				})
			}
			render([]string{"ID", "Seller", "Goods", "Price"}, rows)
			return nil
		},
	}
}

// --- Actions ---

func enqueueCmd(use string, st types.SubjectType) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <settlement> <key>",
		Short: fmt.Sprintf("Queue the next %s level", st),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			e, err := api.Enqueue(cmd.Context(), id, client.EnqueueRequest{SubjectType: string(st), SubjectKey: args[1]})
			if err != nil {
				return err
			}
			successColor.Printf("Queued %s level %d, done at %s\n", game.DisplayName(e.SubjectKey), e.Target, fmtTime(e.EndTime))
			return nil
		},
	}
}

func trainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "train <settlement> <unit> <count>",
		Short: "Queue unit training",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("bad count %q", args[2])
			}
			e, err := api.Enqueue(cmd.Context(), id, client.EnqueueRequest{
				SubjectType: string(types.SubjectMilitaryUnit), SubjectKey: args[1], Count: n,
			})
			if err != nil {
				return err
			}
			successColor.Printf("Training %d %s, done at %s\n", e.Target, game.DisplayName(e.SubjectKey), fmtTime(e.EndTime))
			return nil
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <entry>",
		Short: "Cancel a queue entry (resources are not refunded)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := api.Cancel(cmd.Context(), id); err != nil {
				return err
			}
			successColor.Println("Cancelled")
			return nil
		},
	}
}

// parseArmy reads unit=count pairs.
func parseArmy(args []string) (map[string]int, error) {
	units := make(map[string]int, len(args))
	for _, a := range args {
		key, val, ok := strings.Cut(a, "=")
		if !ok {
			return nil, fmt.Errorf("want unit=count, got %q", a)
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("bad count in %q", a)
		}
		units[key] += n
	}
	return units, nil
}

func attackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attack <origin> <target> <unit=count>...",
		Short: "Send an army",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			origin, err := parseID(args[0])
			if err != nil {
				return err
			}
			target, err := parseID(args[1])
			if err != nil {
				return err
			}
			units, err := parseArmy(args[2:])
			if err != nil {
				return err
			}
			o, err := api.Attack(cmd.Context(), origin, client.AttackRequest{TargetID: target, Units: units})
			if err != nil {
				return err
			}
			successColor.Printf("Army %d marching %d fields, arrives %s\n", o.ID, o.Distance, fmtTime(o.ArrivalTime))
			return nil
		},
	}
}

func offerCmd() *cobra.Command {
	var goods types.Resources
	var price int
	cmd := &cobra.Command{
		Use:   "offer <seller>",
		Short: "Put goods on the market",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seller, err := parseID(args[0])
			if err != nil {
				return err
			}
			o, err := api.CreateOffer(cmd.Context(), client.OfferRequest{SellerID: seller, Resources: goods, Price: price})
			if err != nil {
				return err
			}
			successColor.Printf("Offer %d open: %s for %d gold\n", o.ID, fmtResources(o.Resources), o.Price)
			return nil
		},
	}
	cmd.Flags().IntVar(&goods.Wood, "wood", 0, "Wood offered")
	cmd.Flags().IntVar(&goods.Stone, "stone", 0, "Stone offered")
	cmd.Flags().IntVar(&goods.Ore, "ore", 0, "Ore offered")
	cmd.Flags().IntVar(&price, "price", 0, "Price in gold")
	return cmd
}

func acceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <offer> <buyer>",
		Short: "Buy an offer; the goods travel to the buyer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			offer, err := parseID(args[0])
			if err != nil {
				return err
			}
			buyer, err := parseID(args[1])
			if err != nil {
				return err
			}
			o, err := api.AcceptOffer(cmd.Context(), offer, buyer)
			if err != nil {
				return err
			}
			successColor.Printf("Shipment %d arrives %s\n", o.ID, fmtTime(o.ArrivalTime))
			return nil
		},
	}
}

func withdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <offer>",
		Short: "Cancel an open offer and return the goods",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := api.CancelOffer(cmd.Context(), id); err != nil {
				return err
			}
			successColor.Println("Offer withdrawn")
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Resolve arrived travel orders now",
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := api.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			infoColor.Printf("resolved %d, skipped %d, failed %d\n", rep.Resolved, rep.Skipped, rep.Failed)
			return nil
		},
	}
}

// --- Watch ---

func watchCmd() *cobra.Command {
	var tick, resync time.Duration
	var serverClock bool
	cmd := &cobra.Command{
		Use:   "watch <settlement>",
		Short: "Animate resources and queues until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			var finished []string
			cfg := predictor.Config{
				SettlementID:   id,
				TickInterval:   tick,
				ResyncInterval: resync,
				OnRefresh: func(e types.QueueEntry) {
					finished = append(finished, fmt.Sprintf("%s %s -> %d", fmtTime(e.EndTime), game.DisplayName(e.SubjectKey), e.Target))
				},
			}
			if serverClock {
				cfg.Clock = predictor.ClockServerOffset
			}
			p := predictor.New(api, cfg)
			defer p.Stop()
			if err := p.Initialize(ctx); err != nil {
				return err
			}

			ticker := time.NewTicker(min(300*time.Millisecond, max(100*time.Millisecond, tick)))
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					fmt.Println()
					return nil
				case <-ticker.C:
					drawView(id, p.Tick(time.Now()), finished)
				}
			}
		},
	}
	cmd.Flags().DurationVar(&tick, "tick", 200*time.Millisecond, "Redraw interval (100ms-300ms)")
	cmd.Flags().DurationVar(&resync, "resync", 30*time.Second, "Server resync interval")
	cmd.Flags().BoolVar(&serverClock, "server-clock", false, "Correct the local clock by the server offset")
	return cmd
}

func progressBar(pct float64, width int) string {
	filled := int(pct / 100 * float64(width))
	filled = min(width, max(0, filled))
	return strings.Repeat("#", filled) + strings.Repeat(".", width-filled)
}

func drawView(id int64, v predictor.View, finished []string) {
	fmt.Print("\033[H\033[2J")
	titleColor.Printf("Settlement %d  %s  (synced %s ago, offset %s)\n", id, fmtTime(v.Now),
		v.Now.Sub(v.LastSync).Round(time.Second), v.Offset.Round(time.Millisecond))
	r := v.Resources
	infoColor.Printf("%s  (cap %d)  gold %d  settlers %d/%d\n\n",
		fmtResources(r.Amounts()), r.StorageCapacity, r.Gold, r.FreeSettlers, r.MaxSettlers)

	var rows [][]string
	for _, st := range types.AllSubjectTypes() {
		for _, e := range v.Queues[st] {
			rows = append(rows, []string{
				string(st), game.DisplayName(e.SubjectKey), strconv.Itoa(e.Target),
				progressBar(e.CompletionPercentage, 20), fmt.Sprintf("%5.1f%%", e.CompletionPercentage),
				e.Remaining.Round(time.Second).String(),
			})
		}
	}
	render([]string{"Queue", "Subject", "Target", "Progress", "Done", "Left"}, rows)
	for _, f := range finished {
		successColor.Printf("finished %s\n", f)
	}
}
