// ABOUTME: Minimal client agent for E2E testing — authenticates with a key and starts a session.
// ABOUTME: Usage: keygate-client -key <base64-private-key> [-url http://localhost:8088]

package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/chatsender/keygate/internal/client"
)

func main() {
	url := flag.String("url", "http://localhost:8088", "gateway base URL")
	keyB64 := flag.String("key", "", "base64 private key (seed or expanded form)")
	lookup := flag.String("lookup", "", "resolve an alias/key/user and exit")
	flag.Parse()

	if *keyB64 == "" {
		*keyB64 = os.Getenv("KEYGATE_PRIVATE_KEY")
	}
	if *keyB64 == "" && *lookup == "" {
		log.Fatal("a private key is required: -key or KEYGATE_PRIVATE_KEY")
	}

	if err := run(*url, *keyB64, *lookup); err != nil {
		log.Fatal(err)
	}
}

func run(url, keyB64, lookup string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if lookup != "" && keyB64 == "" {
		// Lookup is unauthenticated; a throwaway client works without a
		// registered key. Any valid key shape will do.
		keyB64 = base64.StdEncoding.EncodeToString(make([]byte, 32))
	}

	priv, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return fmt.Errorf("decoding private key: %w", err)
	}

	c, err := client.New(url, priv)
	if err != nil {
		return err
	}

	if lookup != "" {
		alias, userID, found, err := c.Lookup(ctx, lookup)
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("not found")
			return nil
		}
		fmt.Printf("%s %s\n", alias, userID)
		return nil
	}

	if err := c.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	fmt.Printf("authenticated as %s\n", c.PublicKey())

	sess, err := c.StartSession(ctx)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	fmt.Printf("session %s\n", sess.SessionID)
	fmt.Printf("  alias:        %s\n", sess.Alias)
	fmt.Printf("  matrix user:  %s\n", sess.MatrixUserID)
	fmt.Printf("  server:       %s\n", sess.ServerName)
	fmt.Printf("  access token: %s\n", sess.AccessToken)

	fmt.Println("press Ctrl-C to log out")
	<-ctx.Done()

	// Fresh context; the signal context is already cancelled.
	if err := c.Logout(context.Background()); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	fmt.Println("logged out")
	return nil
}
