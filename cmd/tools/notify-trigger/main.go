// cmd/tools/notify-trigger/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"civic-notify/internal/common/auth"
	httpclient "civic-notify/internal/common/http"
	"civic-notify/internal/notification/dispatcher"
)

func main() {
	sendCmd := flag.NewFlagSet("send", flag.ExitOnError)
	tokenCmd := flag.NewFlagSet("token", flag.ExitOnError)

	// Send command flags
	baseURL := sendCmd.String("url", "http://localhost:8080", "Notification server base URL")
	internalToken := sendCmd.String("internal-token", os.Getenv("INTERNAL_TOKEN"), "Shared internal token")
	kind := sendCmd.String("kind", "", "Event kind (e.g., report_created, status_changed)")
	data := sendCmd.String("data", "", "Event payload as JSON, or @file to read it from a file")
	timeout := sendCmd.Duration("timeout", 10*time.Second, "Request timeout")

	// Token command flags
	secret := tokenCmd.String("secret", os.Getenv("JWT_SECRET"), "JWT signing secret")
	issuer := tokenCmd.String("issuer", "", "JWT issuer")
	userID := tokenCmd.String("user", "", "User ID (token subject)")
	role := tokenCmd.String("role", "USER", "Role (USER, MUNICIPALITY, ADMIN)")
	ttl := tokenCmd.Duration("ttl", time.Hour, "Token lifetime")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "send":
		sendCmd.Parse(os.Args[2:])
		if *kind == "" || *data == "" {
			fmt.Println("Error: kind and data are required for send.")
			sendCmd.Usage()
			os.Exit(1)
		}
		body, err := readPayload(*data)
		if err != nil {
			fmt.Printf("Error reading payload: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()

		client := httpclient.NewClient(*baseURL, *internalToken, *timeout)
		if err := client.PostRaw(ctx, dispatcher.Kind(*kind), body); err != nil {
			fmt.Printf("Error sending event: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Accepted %s event\n", *kind)

	case "token":
		tokenCmd.Parse(os.Args[2:])
		if *secret == "" || *userID == "" {
			fmt.Println("Error: secret and user are required for token.")
			tokenCmd.Usage()
			os.Exit(1)
		}
		tok, err := auth.NewVerifier(*secret, *issuer).Issue(*userID, *role, *ttl)
		if err != nil {
			fmt.Printf("Error issuing token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(tok)

	case "help":
		fallthrough
	default:
		help()
	}
}

func readPayload(data string) ([]byte, error) {
	if len(data) > 1 && data[0] == '@' {
		return os.ReadFile(data[1:])
	}
	return []byte(data), nil
}

func help() {
	fmt.Println(`Notification Trigger Tool

Usage:
  notify-trigger <command> [arguments]

Commands:
  send    Post a domain event to /internal/events
          -kind report_created -data '{"reportId":"r-1","title":"Pothole","municipality":"Lalitpur","actorId":"u-1"}'
          -data @event.json reads the payload from a file
  token   Issue a development JWT for websocket or REST testing
          -user u-1 -role MUNICIPALITY -ttl 2h
  help    Show this help message`)
}
