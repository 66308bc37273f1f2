package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	server := flag.String("server", "http://localhost:3210", "Banter server URL")
	user := flag.String("user", "cli-user", "User id for chat")
	flag.Parse()

	fmt.Println("Banter CLI Chat")
	fmt.Printf("Server: %s | User: %s\n", *server, *user)
	fmt.Println("Type 'exit' or 'quit' to leave. Slash commands (/help, /persona, ...) are sent to the server.")
	fmt.Println("Local commands: :models, :health")
	fmt.Println("---")

	fetchModels(*server)

	var conversationID string
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Bye!")
			return
		}
		if input == ":models" {
			fetchModels(*server)
			continue
		}
		if input == ":health" {
			fetchHealth(*server)
			continue
		}

		conversationID = sendMessage(*server, *user, conversationID, input)
	}
}

func fetchModels(server string) {
	resp, err := http.Get(server + "/api/models")
	if err != nil {
		printError("Failed to fetch models: %v", err)
		return
	}
	defer resp.Body.Close()

	var models []struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Available bool   `json:"available"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		printError("Failed to parse models: %v", err)
		return
	}
	fmt.Println("Models:")
	for _, m := range models {
		icon := "\033[31m✗\033[0m"
		if m.Available {
			icon = "\033[32m✓\033[0m"
		}
		fmt.Printf("  %s %s (%s)\n", icon, m.ID, m.Name)
	}
}

func fetchHealth(server string) {
	resp, err := http.Get(server + "/api/health")
	if err != nil {
		printError("Failed to fetch health: %v", err)
		return
	}
	defer resp.Body.Close()

	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		printError("Failed to parse health: %v", err)
		return
	}
	for k, v := range status {
		fmt.Printf("  %s: %v\n", k, v)
	}
}

func sendMessage(server, user, conversationID, content string) string {
	body, _ := json.Marshal(map[string]string{
		"message":        content,
		"conversationId": conversationID,
		"userId":         user,
	})

	client := &http.Client{Timeout: 65 * time.Second}
	resp, err := client.Post(server+"/api/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		return conversationID
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, string(data))
		return conversationID
	}

	var msg struct {
		ConversationID string   `json:"conversationId"`
		Reply          string   `json:"reply"`
		Persona        string   `json:"persona"`
		Demo           bool     `json:"demo"`
		Notices        []string `json:"notices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		printError("Failed to parse response: %v", err)
		return conversationID
	}

	name := msg.Persona
	if name == "" {
		name = "banter"
	}
	if msg.Demo {
		name += " (demo)"
	}
	fmt.Printf("\033[36m[%s]\033[0m %s\n", name, msg.Reply)
	for _, n := range msg.Notices {
		fmt.Printf("\033[33m! %s\033[0m\n", n)
	}
	if msg.ConversationID != "" {
		return msg.ConversationID
	}
	return conversationID
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
