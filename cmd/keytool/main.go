package main

import (
	"fmt"
	"os"
	"strings"

	_ "github.com/native-crypto/genrsa/cmd/check-rsa"
	_ "github.com/native-crypto/genrsa/cmd/gen-rsa"
	"github.com/native-crypto/genrsa/core"

	"github.com/native-crypto/genrsa/cmd"
)

// readAndValidateConfigFile uses the ConfigValidator registered for the given
// command to validate the provided config file. If the command does not have a
// registered ConfigValidator, this function does nothing.
func readAndValidateConfigFile(name, filename string) error {
	cv := cmd.LookupConfigValidator(name)
	if cv == nil {
		return nil
	}
	return cmd.ValidateConfigFile(cv, filename)
}

// getConfigPath returns the path to the config file if it was provided as a
// command line flag. If the flag was not provided, it returns an empty string.
func getConfigPath() string {
	for i := 0; i < len(os.Args); i++ {
		arg := os.Args[i]
		if arg == "--config" || arg == "-config" {
			if i+1 < len(os.Args) {
				return os.Args[i+1]
			}
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
		if strings.HasPrefix(arg, "-config=") {
			return strings.TrimPrefix(arg, "-config=")
		}
	}
	return ""
}

var keytoolUsage = fmt.Sprintf(`Usage: %s <subcommand> [flags]

  Each key tool has its own subcommand. Use --list to see a list of the
  available tools. Use <subcommand> --help to see the usage for a specific
  tool.
`,
	core.Command())

func main() {
	defer cmd.AuditPanic()
	var command string
	if core.Command() == "keytool" {
		// Operator passed the tool as a subcommand.
		if len(os.Args) <= 1 {
			// No arguments passed.
			fmt.Fprint(os.Stderr, keytoolUsage)
			return
		}

		if os.Args[1] == "--help" || os.Args[1] == "-help" {
			// Help flag passed.
			fmt.Fprint(os.Stderr, keytoolUsage)
			return
		}

		if os.Args[1] == "--list" || os.Args[1] == "-list" {
			// List flag passed.
			for _, c := range cmd.AvailableCommands() {
				fmt.Println(c)
			}
			return
		}
		command = os.Args[1]

		// Remove the subcommand from the arguments.
		os.Args = os.Args[1:]
	} else {
		// Operator ran a tool using a symlink.
		command = core.Command()
	}

	config := getConfigPath()
	if config != "" {
		// Config flag passed.
		err := readAndValidateConfigFile(command, config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error validating config file %q for command %q: %s\n", config, command, err)
			os.Exit(1)
		}
	}

	commandFunc := cmd.LookupCommand(command)
	if commandFunc == nil {
		fmt.Fprintf(os.Stderr, "Unknown subcommand %q.\n", command)
		os.Exit(1)
	}
	commandFunc()
}
