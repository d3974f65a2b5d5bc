// Package mocks provides shared mock implementations for testing.
//
// # Usage
//
//	import "taskpilot/internal/mocks"
//
//	func TestSomething(t *testing.T) {
//	    model := mocks.NewMockLLMClient()
//	    model.RespondByPurpose(map[string][]string{
//	        "plan": {"Step 1: create a.txt"},
//	        "step": {"### a.txt\nhello\n%%%"},
//	    })
//	    // Use model in test...
//	}
//
// # Available Mocks
//
//   - MockLLMClient: scriptable llm.Client
//   - MockShell: exec.Shell whose sessions exit with scripted codes
package mocks
