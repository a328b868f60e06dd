package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"outpost/pkg/game"
	"outpost/pkg/types"
)

var (
	serverURL  = envOr("OUTPOST_SERVER", "http://localhost:8080")
	token      = os.Getenv("OUTPOST_TOKEN")
	adminToken = os.Getenv("OUTPOST_ADMIN_TOKEN")

	titleColor   = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen, color.Bold)
	infoColor    = color.New(color.FgYellow)
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "outpost",
		Short:         "Outpost command console",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", serverURL, "server base URL (OUTPOST_SERVER)")
	rootCmd.PersistentFlags().StringVar(&token, "token", token, "player token (OUTPOST_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&adminToken, "admin-token", adminToken, "operator token (OUTPOST_ADMIN_TOKEN)")

	rootCmd.AddCommand(
		&cobra.Command{Use: "register <name>", Short: "Create a player and print its token", Args: cobra.ExactArgs(1), RunE: doRegister},
		&cobra.Command{Use: "status", Short: "Server status", Args: cobra.NoArgs, RunE: doStatus},
		&cobra.Command{Use: "state", Short: "Show your base", Args: cobra.NoArgs, RunE: doState},
		&cobra.Command{Use: "upgrade <building>", Short: "Start a building upgrade", Args: cobra.ExactArgs(1), RunE: doUpgrade},
		&cobra.Command{Use: "train <unit> <quantity>", Short: "Queue unit training", Args: cobra.ExactArgs(2), RunE: doTrain},
		&cobra.Command{Use: "move <unit> <quantity> <active|reserve>", Short: "Move units between reserve and active army", Args: cobra.ExactArgs(3), RunE: doMove},
		&cobra.Command{Use: "targets", Short: "List attackable players", Args: cobra.NoArgs, RunE: doTargets},
		&cobra.Command{Use: "attack <player_id>", Short: "Attack another player", Args: cobra.ExactArgs(1), RunE: doAttack},
		&cobra.Command{Use: "bonus", Short: "Claim the periodic bonus", Args: cobra.NoArgs, RunE: doBonus},
		&cobra.Command{Use: "report <report_id>", Short: "Read a battle report", Args: cobra.ExactArgs(1), RunE: doReport},
		&cobra.Command{Use: "watch", Short: "Stream notifications", Args: cobra.NoArgs, RunE: doWatch},
		&cobra.Command{Use: "grant <player_id> <amount>", Short: "Operator: credit resources", Args: cobra.ExactArgs(2), RunE: doGrant},
		&cobra.Command{Use: "broadcast <message>", Short: "Operator: announce to every player", Args: cobra.MinimumNArgs(1), RunE: doBroadcast},
		&cobra.Command{Use: "verify", Short: "Operator: verify the snapshot chain", Args: cobra.NoArgs, RunE: doVerify},
	)

	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

// --- Transport ---

type apiError struct {
	Error   string `json:"error"`
	Reason  string `json:"reason"`
	RetryIn int64  `json:"retry_in_seconds"`
}

func call(method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if adminToken != "" && strings.HasPrefix(path, "/admin/") {
		req.Header.Set("X-Admin-Token", adminToken)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		var e apiError
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(raw)))
		}
		if e.RetryIn > 0 {
			return fmt.Errorf("%s (retry in %s)", e.Error, time.Duration(e.RetryIn)*time.Second)
		}
		return fmt.Errorf("%s", e.Error)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// --- Player Commands ---

func doRegister(cmd *cobra.Command, args []string) error {
	var r struct {
		PlayerID int64  `json:"player_id"`
		Token    string `json:"token"`
	}
	if err := call("POST", "/api/register", map[string]string{"name": args[0]}, &r); err != nil {
		return err
	}
	successColor.Printf("Registered %s as player %d\n", args[0], r.PlayerID)
	fmt.Printf("export OUTPOST_TOKEN=%s\n", r.Token)
	return nil
}

func doStatus(cmd *cobra.Command, args []string) error {
	var s struct {
		Players        int       `json:"players"`
		CommandControl bool      `json:"command_control"`
		Genesis        string    `json:"genesis"`
		Time           time.Time `json:"time"`
	}
	if err := call("GET", "/api/status", nil, &s); err != nil {
		return err
	}
	genesis := s.Genesis
	if len(genesis) > 12 {
		genesis = genesis[:12]
	}
	fmt.Printf("Players: %d | Control: %v | Genesis: %s | Time: %s\n",
		s.Players, s.CommandControl, genesis, s.Time.Format(time.RFC3339))
	return nil
}

func doState(cmd *cobra.Command, args []string) error {
	var st game.PlayerState
	if err := call("GET", "/api/state", nil, &st); err != nil {
		return err
	}
	printState(&st)
	return nil
}

func printState(st *game.PlayerState) {
	p := st.Player
	titleColor.Printf("\n%s (#%d)\n", p.Name, p.ID)
	fmt.Printf("Resources: %.0f / %.0f (+%.0f/h, %.0f protected)\n", p.Resources, st.Capacity, st.RatePerHour, st.Protected)
	fmt.Printf("Record: %d attack wins, %d defense wins\n\n", p.AttackWins, p.DefenseWins)

	quotes := make(map[string]game.UpgradeQuote, len(st.Upgrades))
	for _, q := range st.Upgrades {
		quotes[q.Building] = q
	}
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Building", "Level", "Next Cost", "Next Time"}),
	)
	for _, b := range sortedKeys(p.Buildings) {
		cost, dur := "-", "-"
		if q, ok := quotes[b]; ok {
			cost = fmt.Sprintf("%.0f", q.Cost)
			dur = q.Duration.String()
		} else if reason, ok := st.UpgradeErrors[b]; ok {
			cost = reason
		}
		table.Append([]string{b, strconv.Itoa(p.Buildings[b]), cost, dur})
	}
	table.Render()

	army := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Unit", "Active", "Reserve"}),
	)
	for _, u := range sortedKeys(p.Army.Reserve) {
		army.Append([]string{u, strconv.Itoa(p.Army.Active[u]), strconv.Itoa(p.Army.Reserve[u])})
	}
	army.Render()

	if st.Construction != nil {
		infoColor.Printf("Building %s, %s left\n", st.Construction.Building, st.BuildLeft.Round(time.Second))
	}
	if st.Training != nil {
		infoColor.Printf("Training %d %s, next in %s\n", st.Training.QuantityRemaining, st.Training.Unit, st.TrainingLeft.Round(time.Second))
	}
	if st.AttackLeft > 0 {
		infoColor.Printf("Attack cooldown: %s\n", st.AttackLeft.Round(time.Second))
	}
	if st.BonusLeft > 0 {
		infoColor.Printf("Bonus available in %s\n", st.BonusLeft.Round(time.Second))
	} else {
		successColor.Println("Bonus ready")
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func doUpgrade(cmd *cobra.Command, args []string) error {
	var job types.ConstructionJob
	if err := call("POST", "/api/upgrade", map[string]string{"building": args[0]}, &job); err != nil {
		return err
	}
	successColor.Printf("Upgrading %s, done at %s\n", job.Building, job.FinishTime.Local().Format(time.Kitchen))
	return nil
}

func doTrain(cmd *cobra.Command, args []string) error {
	qty, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	var job types.TrainingJob
	if err := call("POST", "/api/train", map[string]any{"unit": args[0], "quantity": qty}, &job); err != nil {
		return err
	}
	successColor.Printf("Training %d %s, first at %s\n", job.QuantityRemaining, job.Unit, job.NextUnitFinishTime.Local().Format(time.Kitchen))
	return nil
}

func doMove(cmd *cobra.Command, args []string) error {
	qty, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	var army types.Army
	if err := call("POST", "/api/army/move", map[string]any{"unit": args[0], "quantity": qty, "to": args[2]}, &army); err != nil {
		return err
	}
	fmt.Printf("%s: %d active, %d reserve\n", args[0], army.Active[args[0]], army.Reserve[args[0]])
	return nil
}

func doTargets(cmd *cobra.Command, args []string) error {
	var list []struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		AttackWins  int    `json:"attack_wins"`
		DefenseWins int    `json:"defense_wins"`
	}
	if err := call("GET", "/api/targets", nil, &list); err != nil {
		return err
	}
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"ID", "Name", "Attack Wins", "Defense Wins"}),
	)
	for _, t := range list {
		table.Append([]string{strconv.FormatInt(t.ID, 10), t.Name, strconv.Itoa(t.AttackWins), strconv.Itoa(t.DefenseWins)})
	}
	table.Render()
	return nil
}

func doAttack(cmd *cobra.Command, args []string) error {
	target, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("player id: %w", err)
	}
	var out game.AttackOutcome
	if err := call("POST", "/api/attack", map[string]int64{"target_id": target}, &out); err != nil {
		return err
	}
	if out.Result.AttackerWon {
		successColor.Println("Victory")
	} else {
		color.Red("Defeat")
	}
	fmt.Println(out.Report)
	return nil
}

func doBonus(cmd *cobra.Command, args []string) error {
	var res game.BonusResult
	if err := call("POST", "/api/bonus", nil, &res); err != nil {
		return err
	}
	successColor.Printf("Won %s\n", res.Prize.Name)
	fmt.Printf("Next claim at %s\n", res.Next.Local().Format(time.RFC1123))
	return nil
}

func doReport(cmd *cobra.Command, args []string) error {
	var r types.BattleReport
	if err := call("GET", "/api/reports/"+args[0], nil, &r); err != nil {
		return err
	}
	titleColor.Printf("Report #%d (%s)\n", r.ID, r.CreatedAt.Local().Format(time.RFC1123))
	fmt.Println(r.Text)
	return nil
}

func doWatch(cmd *cobra.Command, args []string) error {
	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer " + token}})
	if err != nil {
		return err
	}
	defer conn.Close()
	infoColor.Println("Listening for events (Ctrl-C to stop)")
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev types.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			continue
		}
		switch ev.Kind {
		case types.EventAttackReceived:
			color.Red("[%s] You were attacked. Read report %d", ev.At.Local().Format(time.Kitchen), ev.ReportID)
		case types.EventConstructionComplete:
			successColor.Printf("[%s] %s reached level %d\n", ev.At.Local().Format(time.Kitchen), ev.Building, ev.Level)
		case types.EventTrainingComplete:
			successColor.Printf("[%s] %d %s ready\n", ev.At.Local().Format(time.Kitchen), ev.Quantity, ev.Unit)
		case types.EventBonusReady:
			successColor.Printf("[%s] Bonus ready\n", ev.At.Local().Format(time.Kitchen))
		case types.EventBroadcast:
			titleColor.Printf("[%s] %s\n", ev.At.Local().Format(time.Kitchen), ev.Message)
		}
	}
}

// --- Operator Commands ---

func doGrant(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("player id: %w", err)
	}
	amount, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	var p types.Player
	if err := call("POST", "/admin/grant", map[string]any{"player_id": id, "amount": amount}, &p); err != nil {
		return err
	}
	successColor.Printf("%s now holds %.0f\n", p.Name, p.Resources)
	return nil
}

func doBroadcast(cmd *cobra.Command, args []string) error {
	var res struct {
		Recipients int `json:"recipients"`
		Delivered  int `json:"delivered"`
		Failed     int `json:"failed"`
	}
	if err := call("POST", "/admin/broadcast", map[string]string{"message": strings.Join(args, " ")}, &res); err != nil {
		return err
	}
	successColor.Printf("Broadcast to %d players: %d delivered, %d offline\n", res.Recipients, res.Delivered, res.Failed)
	return nil
}

func doVerify(cmd *cobra.Command, args []string) error {
	var v struct {
		OK     bool  `json:"ok"`
		BadDay int64 `json:"bad_day"`
	}
	if err := call("GET", "/admin/verify", nil, &v); err != nil {
		return err
	}
	if v.OK {
		successColor.Println("Snapshot chain intact")
		return nil
	}
	return fmt.Errorf("snapshot chain broken at day %d", v.BadDay)
}
