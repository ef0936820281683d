// collarctl is a thin CLI over collarhubd's local admin socket, for
// scripting and manual testing without going through the agent
// protocol. Grounded on mil-ad-budsctl's client.go command dispatch.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/collarhub/collarhub/internal/coordinator/admin"
)

func main() {
	sockPath := flag.String("socket", "/run/collarhubd.sock", "path to the coordinator admin socket")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: collarctl [-socket path] status|find|submit <shock> <vibro> <sound>")
		os.Exit(2)
	}

	var req admin.Request
	switch args[0] {
	case "status":
		req = admin.Request{Command: "status"}
	case "find":
		req = admin.Request{Command: "find"}
	case "submit":
		if len(args) != 4 {
			fmt.Fprintln(os.Stderr, "usage: collarctl submit <shock 0-100> <vibro 0-100> <sound 0-100>")
			os.Exit(2)
		}
		shock, _ := strconv.ParseFloat(args[1], 64)
		vibro, _ := strconv.ParseFloat(args[2], 64)
		sound, _ := strconv.ParseFloat(args[3], 64)
		req = admin.Request{Command: "submit", Shock: shock, Vibro: vibro, Sound: sound}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		os.Exit(2)
	}

	resp, err := admin.Call(*sockPath, req)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(resp)
	if resp.Error != "" {
		os.Exit(1)
	}
}
