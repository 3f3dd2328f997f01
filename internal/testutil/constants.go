// Package testutil provides common constants and utilities for tests
package testutil

import "time"

const (
	// TestTimeout is the default timeout for test operations
	TestTimeout = 30 * time.Second

	// ShortTestTimeout is a shorter timeout for quick operations
	ShortTestTimeout = 5 * time.Second
)

// CSV fixtures shared by the agent, server and command tests
const (
	// EmployeesCSV loads as table employees: 5 rows, one missing salary and
	// one hire_date that is not a date
	EmployeesCSV = `name,department,salary,hire_date
Ann,Sales,100,2020-01-15
Bob,Sales,120,2020-06-01
Cid,Engineering,150,2021-03-10
Dee,Engineering,,2022-11-30
Eve,Support,90,not a date
`

	// SalesQ1CSV loads as table sales_q1
	SalesQ1CSV = `region,amount,sold_on
North,1200.5,2024-01-03
South,800,2024-02-14
North,450.25,2024-03-30
`
)
