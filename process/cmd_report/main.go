package main

import (
	"flag"
	"fmt"
	"os"

	"docportal/process/report"
)

func main() {
	email := flag.String("email", "", "email of the user to report for")
	month := flag.String("month", "", "month to report (YYYY-MM)")
	list := flag.Bool("list", false, "list matching documents")
	flag.Parse()

	if *email == "" || *month == "" {
		fmt.Fprintln(os.Stderr, "usage: cmd_report -email user@example.com -month 2025-08 [-list]")
		os.Exit(2)
	}
	if os.Getenv("DB_DSN") == "" {
		fmt.Fprintln(os.Stderr, "DB_DSN not set; export DB_DSN and retry")
		os.Exit(2)
	}

	report.RunReport(*email, *month, *list)
}
