package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	roomsPage int
	roomsJSON bool
)

func init() {
	roomsCmd.Flags().IntVar(&roomsPage, "page", 1, "Page number to fetch")
	roomsCmd.Flags().BoolVar(&roomsJSON, "json", false, "Output raw JSON")
	rootCmd.AddCommand(roomsCmd)
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List reservation chat rooms",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client := getAuthedClient(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		rooms := client.Messages().FetchRooms(ctx, roomsPage)
		if roomsJSON {
			data, err := json.MarshalIndent(rooms, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(rooms) == 0 {
			fmt.Println("No rooms on this page.")
			return nil
		}
		for _, room := range rooms {
			unread := ""
			if room.UnreadCount > 0 {
				unread = fmt.Sprintf("  [%d unread]", room.UnreadCount)
			}
			fmt.Printf("%6d  %-30s %s%s\n", room.ID, room.GolfClubName, room.PlanName, unread)
			if room.LatestDate != "" {
				fmt.Printf("        last activity: %s\n", room.LatestDate)
			}
		}
		return nil
	},
}
