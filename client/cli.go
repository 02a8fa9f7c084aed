package client

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sushantsondhi/dcoord/common"
)

// RunCliClient method starts a simple REPL program
// using the client library.
func RunCliClient(servers []common.Server, manager common.RPCManager) error {
	c, err := NewClient(servers, manager)
	if err != nil {
		return err
	}
	return runCli(c, os.Stdin, os.Stdout)
}

func runCli(c *Client, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "<<<< Distributed Coordinator >>>>")
	fmt.Fprintln(out, "Available commands: ")
	fmt.Fprintln(out, "\t SEND [<node>] <content...>")
	fmt.Fprintln(out, "\t REQUEST <node>")
	fmt.Fprintln(out, "\t RELEASE <node>")
	fmt.Fprintln(out, "\t DELAY <node> <seconds>")
	fmt.Fprintln(out, "\t ELECT <node>")
	fmt.Fprintln(out, "\t STATUS [<node>]")
	fmt.Fprintln(out, "\t LOG <node> [<from>]")
	fmt.Fprintln(out, "\t LEADER")
	fmt.Fprintf(out, "\n\n")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "$ ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return io.EOF
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if err := execute(c, out, strings.ToUpper(fields[0]), fields[1:]); err != nil {
			fmt.Fprintln(out, err)
		}
	}
}

func execute(c *Client, out io.Writer, command string, args []string) error {
	switch command {
	case "SEND":
		if len(args) > 0 {
			if id, err := strconv.Atoi(args[0]); err == nil {
				content := contentOf(args[1:])
				msgID, err := c.InitiateAt(common.ProcessID(id), content)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s = %q, OK\n", msgID, content)
				return nil
			}
		}
		content := contentOf(args)
		origin, msgID, err := c.Initiate(content)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s = %q (from %d), OK\n", msgID, content, origin)
	case "REQUEST":
		id, err := nodeArg(args)
		if err != nil {
			return err
		}
		state, err := c.RequestResource(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d: %v, OK\n", id, state)
	case "RELEASE":
		id, err := nodeArg(args)
		if err != nil {
			return err
		}
		if err := c.ReleaseResource(id); err != nil {
			return err
		}
		fmt.Fprintf(out, "%d: %v, OK\n", id, common.Released)
	case "DELAY":
		id, err := nodeArg(args)
		if err != nil {
			return err
		}
		if len(args) < 2 {
			return fmt.Errorf("usage: DELAY <node> <seconds>")
		}
		seconds, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid delay %q", args[1])
		}
		delay, err := common.DelayFromSeconds(seconds)
		if err != nil {
			return err
		}
		if err := c.SetDelay(id, delay); err != nil {
			return err
		}
		fmt.Fprintf(out, "%d: next ack delayed by %ss, OK\n", id, args[1])
	case "ELECT":
		id, err := nodeArg(args)
		if err != nil {
			return err
		}
		if err := c.StartElection(id); err != nil {
			return err
		}
		fmt.Fprintf(out, "%d: election started, OK\n", id)
	case "STATUS":
		if len(args) == 0 {
			statuses, err := c.ClusterHealth()
			for _, status := range statuses {
				printStatus(out, status)
			}
			return err
		}
		id, err := nodeArg(args)
		if err != nil {
			return err
		}
		status, err := c.Health(id)
		if err != nil {
			return err
		}
		printStatus(out, status)
	case "LOG":
		id, err := nodeArg(args)
		if err != nil {
			return err
		}
		var from int64
		if len(args) > 1 {
			if from, err = strconv.ParseInt(args[1], 10, 64); err != nil || from < 0 {
				return fmt.Errorf("invalid index %q", args[1])
			}
		}
		messages, err := c.Delivered(id, from)
		if err != nil {
			return err
		}
		for i, msg := range messages {
			fmt.Fprintf(out, "%d\t%s\tts=%d\tfrom=%d\t%q\n", from+int64(i), msg.ID, msg.Timestamp, msg.SenderID, msg.Content)
		}
	case "LEADER":
		leader, err := c.Leader()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "coordinator = %d\n", leader)
	default:
		return fmt.Errorf("incorrect command %q", command)
	}
	return nil
}

func nodeArg(args []string) (common.ProcessID, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("missing node id")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q", args[0])
	}
	return common.ProcessID(id), nil
}

func contentOf(args []string) string {
	if len(args) == 0 {
		return "Ping"
	}
	return strings.Join(args, " ")
}

func printStatus(out io.Writer, status common.Status) {
	fmt.Fprintf(out, "node %d: coordinator=%d mutex=%v clock=%d pending=%d delivered=%d election=%t",
		status.ID, status.Coordinator, status.MutexState, status.Clock, status.Pending, status.Delivered, status.ElectionActive)
	if status.ID == status.Coordinator {
		fmt.Fprintf(out, " locked=%t waiting=%v", status.CoordinatorLocked, status.Waiting)
	}
	fmt.Fprintln(out)
}
