package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	teelink "github.com/teelink/teelink-go"
)

var sendQuote string

func init() {
	sendCmd.Flags().StringVar(&sendQuote, "quote", "", "Quoted text to attach to the message")
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sendCmd)
}

// ============================================================================
// teelink send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <room-id> <message> [file...]",
	Short: "Send a message to a room",
	Long:  "Post a single message to a reservation chat room, optionally attaching up to five files.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid room id %q", args[0])
		}

		var attachments []teelink.Attachment
		for _, path := range args[2:] {
			att, err := readAttachment(path)
			if err != nil {
				return err
			}
			attachments = append(attachments, att)
		}
		if len(attachments) > teelink.MaxAttachments {
			return fmt.Errorf("at most %d attachments per message", teelink.MaxAttachments)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client := getAuthedClient(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sent := client.Messages().Send(ctx, roomID, args[1], sendQuote, attachments)
		if sent == nil {
			return fmt.Errorf("send failed")
		}
		fmt.Printf("Sent message %s\n", sent.ID)
		return nil
	},
}

func readAttachment(path string) (teelink.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return teelink.Attachment{}, fmt.Errorf("cannot read attachment: %w", err)
	}
	return teelink.Attachment{Name: filepath.Base(path), Data: data}, nil
}

// ============================================================================
// teelink chat
// ============================================================================

var chatCmd = &cobra.Command{
	Use:   "chat <room-id>",
	Short: "Open an interactive chat session for a room",
	Long: `Open a reservation chat room, follow it live, and type messages to send.

Commands inside the session:
  /more              load older messages
  /quote <id>        quote a message in the next send
  /edit <id> <text>  rewrite one of your messages
  /delete <id>       delete one of your messages (asks for confirmation)
  /attach <file>     add a file to the next send
  /quit              leave the session`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid room id %q", args[0])
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client := getAuthedClient(cfg)

		ctx := context.Background()

		var channel teelink.Channel
		var rt *teelink.RealtimeClient
		if cfg.Default.SocketURL != "" {
			rt = teelink.NewRealtimeClient(&teelink.RealtimeConfig{
				URL:    cfg.Default.SocketURL,
				UserID: cfg.Auth.UserID,
			})
			if err := rt.Connect(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "realtime unavailable, falling back to request-only mode: %v\n", err)
			} else {
				channel = rt
				defer rt.Disconnect()
			}
		}

		conv := teelink.NewConversation(client.Messages(), channel, roomID)
		conv.Open(ctx)
		defer conv.Close()

		printTimeline(conv)

		if channel != nil {
			rtUnsub := rt.OnPrivateMessage(func(teelink.PrivateMessage) {
				printTimeline(conv)
				fmt.Print("> ")
			})
			defer rtUnsub()
		}

		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
			case line == "/quit":
				return nil
			case line == "/more":
				conv.LoadMore(ctx)
				printTimeline(conv)
			case strings.HasPrefix(line, "/quote "):
				id := teelink.MessageID(strings.TrimSpace(strings.TrimPrefix(line, "/quote ")))
				if m, ok := findMessage(conv, id); ok {
					conv.QuoteMessage(m)
					fmt.Printf("quoting %s\n", id)
				} else {
					fmt.Printf("no message %s in this room\n", id)
				}
			case strings.HasPrefix(line, "/edit "):
				rest := strings.TrimPrefix(line, "/edit ")
				fields := strings.SplitN(rest, " ", 2)
				if len(fields) != 2 {
					fmt.Println("usage: /edit <id> <text>")
					break
				}
				if err := conv.Edit(ctx, teelink.MessageID(fields[0]), fields[1]); err != nil {
					fmt.Printf("edit failed: %v\n", err)
				} else {
					printTimeline(conv)
				}
			case strings.HasPrefix(line, "/delete "):
				id := teelink.MessageID(strings.TrimSpace(strings.TrimPrefix(line, "/delete ")))
				fmt.Printf("delete message %s? [y/N] ", id)
				if !scanner.Scan() {
					return nil
				}
				answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
				if answer != "y" && answer != "yes" {
					fmt.Println("kept.")
					break
				}
				if conv.Delete(ctx, id) {
					printTimeline(conv)
				} else {
					fmt.Println("delete failed")
				}
			case strings.HasPrefix(line, "/attach "):
				path := strings.TrimSpace(strings.TrimPrefix(line, "/attach "))
				att, err := readAttachment(path)
				if err != nil {
					fmt.Println(err)
					break
				}
				if !conv.AttachFile(att) {
					fmt.Printf("at most %d attachments per message\n", teelink.MaxAttachments)
				} else {
					fmt.Printf("attached %s\n", att.Name)
				}
			default:
				conv.SetDraftText(line)
				if err := conv.Send(ctx); err != nil {
					fmt.Printf("send failed, draft kept: %v\n", err)
				} else {
					printTimeline(conv)
				}
			}
			fmt.Print("> ")
		}
		return scanner.Err()
	},
}

func findMessage(conv *teelink.Conversation, id teelink.MessageID) (teelink.Message, bool) {
	for _, m := range conv.Messages() {
		if m.ID == id {
			return m, true
		}
	}
	return teelink.Message{}, false
}

func printTimeline(conv *teelink.Conversation) {
	msgs := conv.Messages()
	if len(msgs) == 0 {
		fmt.Println("(no messages yet)")
		return
	}
	fmt.Println("----------------------------------------")
	for _, m := range msgs {
		who := "club"
		if m.Mine() {
			who = "you"
		}
		fmt.Printf("[%s] %-4s %s\n", m.ID, who, m.Body)
		if m.QuoteText != "" {
			fmt.Printf("           > %s\n", m.QuoteText)
		}
		for _, att := range m.Attachments() {
			fmt.Printf("           (file) %s\n", att)
		}
	}
	fmt.Println("----------------------------------------")
}
