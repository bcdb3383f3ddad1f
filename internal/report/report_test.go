package report

import (
	"strings"
	"testing"
	"time"

	"github.com/fentz26/qgate/internal/models"
	"github.com/stretchr/testify/assert"
)

var fileB = models.FileDescriptor{ID: 2, Path: "frontend/b.js", Size: 60 * 1024, Category: "frontend", Type: "javascript"}

func failedResult() models.TestResult {
	return models.TestResult{
		FileID:    2,
		Success:   false,
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600)),
		ExitCode:  1,
		Stdout:    "lint output\n",
		Stderr:    "SyntaxError: Unexpected token\n",
		DetailedResults: &models.DetailedResults{Categories: []models.CategoryResult{
			{Name: "Syntax", Status: "failed", IssuesCount: 2, Details: "line 3"},
			{Name: "Style", Status: "passed"},
		}},
	}
}

func TestBuildReport_Failed(t *testing.T) {
	got := BuildReport(fileB, failedResult())

	want := `CODE QUALITY TEST REPORT
========================

File:      frontend/b.js
Size:      60 KiB
Category:  frontend
Type:      javascript
Tested:    2024-01-02T02:04:05Z
Status:    FAILED
Exit Code: 1

ERROR DETAILS
=============
Error Output:
SyntaxError: Unexpected token

TEST CATEGORIES
===============
1. Syntax: failed
   Issues: 2
   Details: line 3
2. Style: passed

FULL OUTPUT
===========
lint output

REMEDIATION PROMPT
==================
Please analyze this test report and help me fix the issues in frontend/b.js. Focus on the failed tests and provide specific code fixes.
`
	assert.Equal(t, want, got)
}

func TestBuildReport_Deterministic(t *testing.T) {
	r := failedResult()
	assert.Equal(t, BuildReport(fileB, r), BuildReport(fileB, r))
}

func TestBuildReport_NoDetailedResults(t *testing.T) {
	r := models.TestResult{
		Success:   false,
		ExitCode:  -1,
		Stdout:    "Test timeout or no response received",
		Stderr:    "Test failed to complete within expected time",
		ErrorType: models.ErrorTypeTimeout,
	}
	got := BuildReport(fileB, r)

	assert.NotContains(t, got, "TEST CATEGORIES")
	assert.Contains(t, got, "Error Type: timeout")
	assert.Contains(t, got, "Tested:    -")
	assert.Contains(t, got, "Exit Code: -1")

	r.DetailedResults = &models.DetailedResults{}
	assert.NotContains(t, BuildReport(fileB, r), "TEST CATEGORIES")
}

func TestBuildReport_Passed(t *testing.T) {
	got := BuildReport(fileB, models.TestResult{Success: true})
	assert.Contains(t, got, "Status:    PASSED")
	assert.NotContains(t, got, "ERROR DETAILS")
	assert.NotContains(t, got, "FULL OUTPUT")
	assert.True(t, strings.HasSuffix(got, "provide specific code fixes.\n"))
}

func TestSummary(t *testing.T) {
	files := []models.FileDescriptor{
		{ID: 1, Path: "a.py", Size: 10 * 1024},
		fileB,
		{ID: 3, Path: "c.css", Size: 5 * 1024},
	}
	statuses := map[int]models.TestStatus{1: models.StatusCompleted, 2: models.StatusFailed, 3: models.StatusError}
	results := map[int]models.TestResult{
		1: {Success: true},
		2: failedResult(),
		3: {ExitCode: -1, ErrorType: models.ErrorTypeTimeout},
	}

	got := Summary(files, statuses, results)
	lines := strings.Split(strings.TrimSpace(got), "\n")
	assert.Len(t, lines, 6)
	assert.Contains(t, lines[1], "a.py")
	assert.Contains(t, lines[1], "completed")
	assert.Contains(t, lines[2], "2 issues")
	assert.Contains(t, lines[3], "timeout")
	assert.Equal(t, "1/3 passed", lines[5])
}
