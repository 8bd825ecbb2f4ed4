package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"safetrack/internal/session"
	"safetrack/internal/statestore"
	"safetrack/internal/transport"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("✅ .env file loaded")
	}

	serverURL := flag.String("server", defaultServerURL(), "WebSocket URL of the SafeTrack server")
	statePath := flag.String("state", defaultStatePath(), "Path of the local state cache file")
	simulate := flag.Bool("simulate", false, "Use the simulated walk instead of a real location source")
	flag.Parse()

	store, err := statestore.Open(*statePath)
	if err != nil {
		log.Fatalf("❌ Failed to open state cache: %v", err)
	}

	ws := transport.NewWS(*serverURL, "")

	client := session.NewClient(ws, store, session.Config{
		OnStatus: func(s session.Status) {
			fmt.Printf("\r%s\n> ", s.Message)
		},
		OnUserIDCheck: func(id string, available bool) {
			if available {
				fmt.Printf("\r✅ %s is available\n> ", id)
			} else {
				fmt.Printf("\r❌ %s is taken\n> ", id)
			}
		},
	})
	defer client.Close()

	if err := ws.Start(); err != nil {
		log.Fatalf("❌ Failed to connect to %s: %v", *serverURL, err)
	}
	defer ws.Close()

	fmt.Printf("Connected to %s\n", *serverURL)
	fmt.Println(`Type "help" for commands.`)

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		if !run(client, *simulate, line) {
			return
		}
		fmt.Print("> ")
	}
}

// run executes one command line; returns false to exit
func run(client *session.Client, simulate bool, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		printHelp()

	case "register":
		if len(args) != 2 {
			fmt.Println("usage: register <userId> <password>")
			break
		}
		report(client.Register(args[0], args[1]))

	case "login":
		if len(args) != 2 {
			fmt.Println("usage: login <userId> <password>")
			break
		}
		report(client.Login(args[0], args[1]))

	case "logout":
		client.Logout()

	case "check":
		if len(args) != 1 {
			fmt.Println("usage: check <userId>")
			break
		}
		client.CheckUserID(args[0])

	case "request":
		if len(args) != 1 {
			fmt.Println("usage: request <userId>")
			break
		}
		report(client.RequestLocationShare(args[0]))

	case "accept", "reject":
		if len(args) != 1 {
			fmt.Printf("usage: %s <requestId>\n", cmd)
			break
		}
		report(client.RespondToRequest(args[0], cmd == "accept"))

	case "requests":
		for _, r := range client.ShareRequests() {
			fmt.Printf("  %s  from %s (%s)\n", r.RequestID, r.FromName, r.From)
		}

	case "stop":
		if len(args) != 1 {
			fmt.Println("usage: stop <userId>")
			break
		}
		report(client.StopLocationShare(args[0]))

	case "stoprecv":
		if len(args) != 1 {
			fmt.Println("usage: stoprecv <userId>")
			break
		}
		report(client.StopReceivingShare(args[0]))

	case "track":
		if simulate {
			report(client.StartSimulation())
		} else {
			report(client.StartTracking())
		}

	case "untrack":
		client.StopTracking()

	case "msg":
		if len(args) < 2 {
			fmt.Println("usage: msg <userId> <text>")
			break
		}
		report(client.SendMessage(args[0], strings.Join(args[1:], " ")))

	case "chat":
		for _, m := range client.ChatMessages() {
			fmt.Printf("  [%s] %s -> %s: %s\n", m.Timestamp, m.From, m.To, m.Message)
		}

	case "shares":
		fmt.Println("Sharing with:")
		for _, u := range client.SharedUsers() {
			fmt.Printf("  %s (%s)\n", u.Name, u.ID)
		}
		fmt.Println("Receiving from:")
		for _, u := range client.ReceivedShares() {
			fmt.Printf("  %s (%s)\n", u.Name, u.ID)
		}

	case "locations":
		for _, l := range client.Locations() {
			fmt.Printf("  %s  %.5f,%.5f  at %s\n", l.UserID, l.Lat, l.Lng, l.Timestamp)
		}

	case "users":
		for _, u := range client.Users() {
			marker := " "
			if u.IsTracking {
				marker = "📍"
			}
			fmt.Printf("  %s %s (%s)\n", marker, u.Name, u.ID)
		}

	case "whoami":
		if client.Authenticated() {
			fmt.Printf("  %s (tracking: %s)\n", client.UserID(), client.TrackingState())
		} else {
			fmt.Println("  not signed in")
		}

	case "quit", "exit":
		return false

	default:
		fmt.Printf("unknown command %q, try \"help\"\n", cmd)
	}
	return true
}

func report(err error) {
	if err != nil {
		fmt.Printf("❌ %v\n", err)
	}
}

func printHelp() {
	fmt.Println(`Commands:
  register <userId> <password>   create an account
  login <userId> <password>      sign in
  logout                         sign out and clear the local cache
  check <userId>                 check handle availability
  request <userId>               ask to see someone's location
  requests                       list incoming share requests
  accept | reject <requestId>    answer an incoming request
  stop <userId>                  stop sharing your location with them
  stoprecv <userId>              stop receiving their location
  track / untrack                start or stop sharing your position
  msg <userId> <text>            send a chat message
  chat                           show chat history
  shares                         show share relations
  locations                      show received locations
  users                          show online users
  whoami                         show session info
  quit                           exit`)
}

func defaultServerURL() string {
	if url := os.Getenv("SAFETRACK_SERVER_URL"); url != "" {
		return url
	}
	return "ws://localhost:8080/ws"
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "safetrack-state.json"
	}
	return filepath.Join(dir, "safetrack", "state.json")
}
