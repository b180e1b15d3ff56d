package cli

import (
	"context"
	"fmt"
	"strings"
)

func (a *App) getStatus() string {
	parts := make([]string, 0, 2)
	if a.ident.IsAuthenticated() {
		parts = append(parts, "signed-in")
	}
	if a.monitor.IsOnline() {
		parts = append(parts, "online")
	} else {
		parts = append(parts, "offline")
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func (a *App) Root(ctx context.Context) {
	fmt.Println("PaperSync CLI (type 'help' for commands)")

	for {
		fmt.Printf("psync %s> ", a.getStatus())
		line, err := a.reader.ReadString('\n')
		if err != nil {
			break
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			fmt.Println("Available commands: login, add, attach, list, show, delete, sync, status, exit")
		case "login":
			a.login(ctx)
		case "add":
			a.add(ctx)
		case "attach":
			a.attach(ctx, args)
		case "list":
			a.list(ctx)
		case "show":
			a.show(ctx, args)
		case "delete":
			a.deleteDocument(ctx, args)
		case "sync":
			a.syncNow(ctx)
		case "status":
			a.status(ctx)
		case "exit", "quit":
			return
		default:
			fmt.Println("Unknown command, type 'help'")
		}
	}
}
