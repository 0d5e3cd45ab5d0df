package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/arenabot/arenabot/internal/model"
)

var battlesChannel string

var battlesCmd = &cobra.Command{
	Use:   "battles",
	Short: "List stored battles",
	RunE:  runBattles,
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one battle's narrative",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	battlesCmd.Flags().StringVar(&battlesChannel, "channel", "", "only battles from this channel")
	rootCmd.AddCommand(battlesCmd)
	rootCmd.AddCommand(showCmd)
}

func runBattles(cmd *cobra.Command, args []string) error {
	url := serverURL + "/api/battles"
	if battlesChannel != "" {
		url += "?channel=" + battlesChannel
	}

	var battles []model.BattleResult
	if err := getJSON(url, &battles); err != nil {
		return err
	}

	if len(battles) == 0 {
		fmt.Println("No battles found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCHANNEL\tSETTING\tFIGHTERS\tCREATED")
	for _, b := range battles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			b.ID, b.Channel, b.SettingID, len(b.Fighters),
			b.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runShow(cmd *cobra.Command, args []string) error {
	var battle model.BattleResult
	if err := getJSON(serverURL+"/api/battles/"+args[0], &battle); err != nil {
		return err
	}

	fmt.Printf("Battle %s (%s, setting %s)\n\n", battle.ID, battle.Channel, battle.SettingID)
	if battle.Environment != "" {
		fmt.Printf("Environment (%s):\n%s\n\n", battle.EnvironmentMode, battle.Environment)
	}
	for _, f := range battle.Fighters {
		fmt.Printf("- %s (%s)\n", f.Name, f.Player.DisplayName)
	}
	fmt.Printf("\n%s\n", battle.Narrative)
	return nil
}

func getJSON(url string, v any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: arenabot serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
