package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path"
	"runtime"
	"strconv"
	"strings"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/stormspirit/RAMCloud/client"
	"github.com/stormspirit/RAMCloud/config"
	"github.com/stormspirit/RAMCloud/txn"
)

const (
	cmdGet    = "get"
	cmdSet    = "set"
	cmdDel    = "del"
	cmdTxn    = "txn"
	cmdEndTxn = "end"
	cmdExit   = "exit"
)

// Command line parameters
var (
	configPath string
	logLevel   string
)

func init() {
	flag.StringVarP(&configPath, "config", "c", config.DefaultPath, "Set the cluster config file path")
	flag.StringVarP(&logLevel, "loglevel", "v", "info", "Set the log level (debug/info/warn/error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		flag.PrintDefaults()
	}
}

type repl struct {
	client *client.Client
	reader *bufio.Reader
	tx     *txn.Transaction
	prompt func(format string, a ...interface{})
}

func (r *repl) readCmd() []string {
	r.prompt("> ")
	line, err := r.reader.ReadString('\n')
	if err != nil {
		log.Fatal(err)
	}
	return strings.Fields(strings.TrimSuffix(line, "\n"))
}

func validCmd(cmdArr []string) error {
	if len(cmdArr) == 0 {
		return errors.New("")
	}
	switch cmdArr[0] {
	case cmdGet, cmdDel:
		if len(cmdArr) != 3 {
			return fmt.Errorf("invalid %[1]s command. Correct syntax: %[1]s [table] [key]", cmdArr[0])
		}
	case cmdSet:
		if len(cmdArr) != 4 {
			return fmt.Errorf("invalid %[1]s command. Correct syntax: %[1]s [table] [key] [value]", cmdArr[0])
		}
	case cmdTxn, cmdEndTxn, cmdExit:
		if len(cmdArr) != 1 {
			return fmt.Errorf("invalid %s command", cmdArr[0])
		}
	default:
		return errors.New("command not recognized")
	}
	if cmdArr[0] == cmdGet || cmdArr[0] == cmdSet || cmdArr[0] == cmdDel {
		if _, err := strconv.ParseUint(cmdArr[1], 10, 64); err != nil {
			return fmt.Errorf("invalid table id %q", cmdArr[1])
		}
	}
	return nil
}

func (r *repl) run() {
	for {
		cmdArr := r.readCmd()
		if err := validCmd(cmdArr); err != nil {
			if err.Error() != "" {
				fmt.Println(err)
			}
			continue
		}

		var tableID uint64
		if len(cmdArr) > 1 {
			tableID, _ = strconv.ParseUint(cmdArr[1], 10, 64)
		}

		switch cmdArr[0] {
		case cmdGet:
			r.get(tableID, cmdArr[2])
		case cmdSet:
			r.set(tableID, cmdArr[2], cmdArr[3])
		case cmdDel:
			r.del(tableID, cmdArr[2])
		case cmdTxn:
			if r.tx != nil {
				fmt.Println("already in transaction")
				continue
			}
			r.tx = r.client.NewTransaction()
			fmt.Println("entering transaction, end commits")
		case cmdEndTxn:
			if r.tx == nil {
				fmt.Println("not in transaction")
				continue
			}
			if err := r.tx.Commit(); err != nil {
				fmt.Println(err)
			} else {
				fmt.Println("OK")
			}
			r.tx = nil
		case cmdExit:
			fmt.Println("stop client")
			return
		}
	}
}

func (r *repl) get(tableID uint64, key string) {
	var value []byte
	var err error
	if r.tx != nil {
		value, err = r.tx.Read(tableID, []byte(key))
	} else {
		value, err = r.client.Read(tableID, []byte(key))
	}
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(string(value))
}

func (r *repl) set(tableID uint64, key, value string) {
	var err error
	if r.tx != nil {
		err = r.tx.Write(tableID, []byte(key), []byte(value))
	} else {
		err = r.client.Write(tableID, []byte(key), []byte(value))
	}
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("OK")
}

func (r *repl) del(tableID uint64, key string) {
	var err error
	if r.tx != nil {
		err = r.tx.Remove(tableID, []byte(key))
	} else {
		err = r.client.Remove(tableID, []byte(key))
	}
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("OK")
}

func main() {
	flag.Parse()
	logger := log.New()
	logger.SetFormatter(&nested.Formatter{
		HideKeys:    true,
		FieldsOrder: []string{"component"},
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1]
			return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, funcName)
		},
		CallerFirst: true,
	})
	if level, err := log.ParseLevel(logLevel); err == nil {
		logger.SetLevel(level)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("unable to load cluster config: %s", err)
	}

	r := &repl{
		client: client.New(logger, config.NewSource(cfg)),
		reader: bufio.NewReader(os.Stdin),
		prompt: color.New(color.FgCyan).PrintfFunc(),
	}
	r.run()
}
