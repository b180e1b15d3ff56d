package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/papersync/papersync/internal/common"
	"github.com/papersync/papersync/internal/identity"
	"github.com/papersync/papersync/internal/services"
)

// login reads the credential token without echo and caches it for the
// identity provider. Issuing the token happens outside the client.
func (a *App) login(ctx context.Context) {
	fmt.Print("Paste credential token: ")
	token, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Printf("Error reading token: %v\n", err)
		return
	}

	if err := identity.SaveToken(a.config.TokenPath, strings.TrimSpace(string(token))); err != nil {
		fmt.Printf("Error saving token: %v\n", err)
		return
	}
	if err := a.ident.Refresh(ctx); err != nil {
		fmt.Printf("Error loading token: %v\n", err)
		return
	}

	if a.ident.IsAuthenticated() {
		fmt.Println("Signed in.")
		a.syncer.TriggerSync(0)
	} else {
		fmt.Println("Token is missing an identity or already expired.")
	}
}

func (a *App) readLine(prompt string) string {
	fmt.Print(prompt)
	line, _ := a.reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func (a *App) add(ctx context.Context) {
	in := services.DocumentInput{
		Title:    a.readLine("Title: "),
		Category: a.readLine("Category: "),
		Notes:    a.readLine("Notes (optional): "),
	}
	if labels := a.readLine("Labels (comma separated, optional): "); labels != "" {
		for _, l := range strings.Split(labels, ",") {
			in.Labels = append(in.Labels, strings.TrimSpace(l))
		}
	}

	doc, err := a.docs.Create(ctx, in)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Created %s\n", doc.SyncID)
}

func (a *App) attach(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Println("Usage: attach <sync-id> <file-path>")
		return
	}
	att, err := a.docs.AttachFile(ctx, args[0], args[1])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Attached %s (%d bytes)\n", att.FileName, att.FileSize)
}

func (a *App) list(ctx context.Context) {
	docs, err := a.docs.List(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if len(docs) == 0 {
		fmt.Println("No documents.")
		return
	}
	for _, d := range docs {
		fmt.Printf("%s  %-12s  %-20s  %d file(s)\n", d.SyncID, d.SyncState, d.Title, len(d.Attachments))
	}
}

func (a *App) show(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: show <sync-id>")
		return
	}
	d, err := a.docs.Get(ctx, args[0])
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			fmt.Println("Not found.")
			return
		}
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("Title:    %s\nCategory: %s\nState:    %s\nUpdated:  %s\n",
		d.Title, d.Category, d.SyncState, d.UpdatedAt.Format("2006-01-02 15:04:05"))
	if d.Notes != "" {
		fmt.Printf("Notes:    %s\n", d.Notes)
	}
	if len(d.Labels) > 0 {
		fmt.Printf("Labels:   %s\n", strings.Join(d.Labels, ", "))
	}
	for _, att := range d.Attachments {
		place := "remote only"
		switch {
		case att.LocalPath != "" && att.StorageKey != "":
			place = "local+remote"
		case att.LocalPath != "":
			place = "local only"
		}
		fmt.Printf("  %s  %d bytes  [%s]\n", att.FileName, att.FileSize, place)
	}
}

func (a *App) deleteDocument(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: delete <sync-id>")
		return
	}
	if err := a.docs.Delete(ctx, args[0]); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("Deleted.")
}

// syncNow is the explicit manual trigger; it is the only user action that
// waits for sync completion.
func (a *App) syncNow(ctx context.Context) {
	res, err := a.syncer.PerformSync(ctx)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrAlreadyInProgress):
			fmt.Println("A sync is already running.")
		case errors.Is(err, common.ErrNotAuthenticated):
			fmt.Println("Sign in first (login).")
		case errors.Is(err, common.ErrOffline):
			fmt.Println("Offline; sync will resume when connectivity returns.")
		default:
			fmt.Printf("Sync failed: %v\n", err)
		}
		return
	}

	fmt.Printf("Uploaded %d, downloaded %d.\n", res.Uploaded, res.Downloaded)
	for _, e := range res.Errors {
		fmt.Printf("  error: %s\n", e)
	}
}

func (a *App) status(ctx context.Context) {
	fmt.Printf("Signed in: %v\n", a.ident.IsAuthenticated())
	fmt.Printf("Online:    %v\n", a.monitor.IsOnline())
	fmt.Printf("Sync:      enabled=%v\n", a.config.SyncEnabled)
	if _, err := os.Stat(a.config.DatabasePath); err == nil {
		fmt.Printf("Database:  %s\n", a.config.DatabasePath)
	}
}
