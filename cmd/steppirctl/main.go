package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dougsko/steppird/pkg/client"
)

var (
	socketPath = flag.String("socket", "/tmp/steppird.sock", "Unix socket path")
	command    = flag.String("cmd", "", "Command to send (e.g., 'STATUS', 'FREQUENCY:14074000')")
	summary    = flag.Bool("summary", false, "Print a one-line status summary instead of JSON")
)

func main() {
	flag.Parse()

	if *socketPath == "" {
		fmt.Fprintf(os.Stderr, "Socket path is required\n")
		os.Exit(1)
	}

	client := client.NewSocketClient(*socketPath)

	if *summary {
		status, err := client.GetStatus()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("radio %s, antenna %s, link %s, client attached: %t, channel %s (%d pending)\n",
			status.Frequency, status.AntennaFrequency, status.RadioLink,
			status.ClientAttached, status.ChannelState, status.PendingCommands)
		return
	}

	// If no command specified, show interactive help
	if *command == "" {
		if len(flag.Args()) > 0 {
			*command = strings.Join(flag.Args(), " ")
		} else {
			showHelp()
			return
		}
	}

	response, err := client.SendCommand(*command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", response.String())
	if !response.Success {
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Println("steppirctl - SteppIR Relay Daemon Control Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options] <command>\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -socket <path>    Unix socket path (default: /tmp/steppird.sock)")
	fmt.Println("  -cmd <command>    Command to send")
	fmt.Println("  -summary          Print a one-line status summary")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  STATUS                    Get relay status")
	fmt.Println("  FREQUENCY:<hz>            Tune the antenna")
	fmt.Println("  JOG:<+/-hz>               Move the antenna by an offset")
	fmt.Println("  BAND:UP|DOWN              Move the antenna to the next band")
	fmt.Println("  DIRECTION:NORMAL|180|BI   Set the antenna direction")
	fmt.Println("  AUTOTRACK:ON|OFF          Toggle controller autotrack")
	fmt.Println("  RETRACT                   Retract the elements")
	fmt.Println("  CALIBRATE                 Calibrate the elements")
	fmt.Println("  HISTORY                   Recent antenna commands")
	fmt.Println("  HISTORY:10                Last 10 antenna commands")
	fmt.Println("  PING                      Test connection")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  %s STATUS\n", os.Args[0])
	fmt.Printf("  %s FREQUENCY:14074000\n", os.Args[0])
	fmt.Printf("  %s JOG:-5000\n", os.Args[0])
	fmt.Printf("  echo 'STATUS' | nc -U /tmp/steppird.sock\n")
}
