// Command errchat is a terminal chat with the NYCMG error assistant.
//
//	errchat -url http://localhost:8080 -token $TOKEN
//	errchat -mint            # sign a short-lived token with JWT_SECRET
//	errchat -error-id <uuid> # ask about a stored error
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"nycmg-backend/internal/client"
	"nycmg-backend/internal/middleware"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "API base URL")
	token := flag.String("token", os.Getenv("NYCMG_TOKEN"), "bearer token")
	mint := flag.Bool("mint", false, "sign a token with JWT_SECRET instead of -token")
	errorID := flag.String("error-id", "", "stored error to ask about")
	flag.Parse()

	if *mint {
		godotenv.Load()
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			fatalf("-mint needs JWT_SECRET")
		}
		signed, err := middleware.NewJWTAuth(secret, nil).GenerateAccessToken(uuid.New(), "support", time.Hour)
		if err != nil {
			fatalf("mint token: %v", err)
		}
		*token = signed
	}

	api := client.New(*baseURL, *token)
	session := client.NewChatSession(api).WithScreen("errchat", "terminal")

	if *errorID != "" {
		id, err := uuid.Parse(*errorID)
		if err != nil {
			fatalf("invalid -error-id: %v", err)
		}
		session.WithError(id)
		printRecord(api, id)
	}

	fmt.Println("Ask about an error. Commands: /dashboard, /clear, /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return
		case "/clear":
			session.Clear()
			fmt.Println("(conversation cleared)")
			continue
		case "/dashboard":
			printDashboard(api)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
		res := session.Send(ctx, line)
		cancel()

		switch res.Kind {
		case client.ResultReply:
			fmt.Printf("ai: %s\n", res.Message.Message)
		case client.ResultFailed:
			fmt.Printf("error: %s\n", res.Message.Message)
			fmt.Fprintf(os.Stderr, "  (%v)\n", res.Err)
		case client.ResultRejected:
		}
	}
}

func printRecord(api *client.Client, id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rec, err := api.Analyze(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load error %s: %v\n", id, err)
		return
	}
	fmt.Printf("[%s/%s] %s\n", rec.Kind, rec.Severity, rec.Message)
	if rec.AIAnalysis.RootCause != "" {
		fmt.Printf("  cause: %s\n", rec.AIAnalysis.RootCause)
	}
	for _, fix := range rec.AIAnalysis.SuggestedFixes {
		fmt.Printf("  - %s\n", fix)
	}
}

func printDashboard(api *client.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	d, err := api.LoadDashboard(ctx, 5)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dashboard: %v\n", err)
		return
	}

	fmt.Printf("status=%s ai_enabled=%t stored=%d last_24h=%d\n", d.Health.Status, d.Health.AIEnabled, d.Stats.Total, d.Stats.Last24h)
	for sev, n := range d.Stats.BySeverity {
		fmt.Printf("  %-8s %d\n", sev, n)
	}
	for _, rec := range d.Recent {
		fmt.Printf("  %s %s %-14s %s\n", rec.Timestamp.Format(time.Kitchen), rec.ID.String()[:8], rec.Kind, rec.Message)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "errchat: "+format+"\n", args...)
	os.Exit(1)
}
