// Package terminal implements the command-line interface (CLI) mode for the Parley agent.
//
// The terminal reads prompts line by line, sends each one to an
// agent.EnhancedAgent and prints the reply. Function calls requested by the
// model are announced according to the Verbosity and, in prompt mode, must
// be confirmed before they run.
//
// # Usage
//
//	a := agent.NewEnhanced(sess)
//	if err := a.Initialize(agent.ConfigFrom(cfg), provider); err != nil {
//	    // handle error
//	}
//
//	term := terminal.New(a, os.Stdin, os.Stdout)
//	term.Mode = terminal.ModeAuto
//	err = term.Run(ctx, initialPrompt)
//
// # Commands
//
//   - /quit, /exit: end the session
//   - /clear: reset the conversation history
//   - /stats: print the agent statistics
//
// # Modes
//
//   - Auto mode: functions are executed without confirmation
//   - Prompt mode: the user confirms each function call with y/n
//
// # Verbosity Levels
//
//   - None: no function information is printed
//   - Info: function names are printed when called
//   - All: names, arguments and results are printed
package terminal
