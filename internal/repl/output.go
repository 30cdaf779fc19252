package repl

import (
	"fmt"
)

func (r *REPL) println(s string) {
	fmt.Fprintln(r.out, s)
	fmt.Fprintln(r.out)
}

func (r *REPL) displayError(err error) {
	r.println(r.formatter.FormatError(err))
}

func (r *REPL) displayWelcome() {
	fmt.Fprint(r.out, r.formatter.FormatWelcome(r.client.BaseURL(), r.owner))
}

func (r *REPL) displayHelp() {
	fmt.Fprint(r.out, r.formatter.FormatHelp())
}

func (r *REPL) displayInfo(msg string) {
	r.println(r.formatter.FormatInfo(msg))
}

func (r *REPL) displaySystem(msg string) {
	r.println(r.formatter.FormatSystem(msg))
}

func (r *REPL) displaySuccess(msg string) {
	r.println(r.formatter.FormatSuccess(msg))
}
