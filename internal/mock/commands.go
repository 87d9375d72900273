package mock

// CommandList is a versioned set of WebdriverIO command names.
type CommandList struct {
	Version int
	Names   []string
}

// Contains reports whether name is in the list.
func (l CommandList) Contains(name string) bool {
	for _, n := range l.Names {
		if n == name {
			return true
		}
	}
	return false
}

// InputCommands are the commands after which a mocked API may have been
// exercised by the app, so mocks are refreshed. execute is deliberately
// absent. Bump Version when changing the names.
var InputCommands = CommandList{
	Version: 1,
	Names: []string{
		"addValue",
		"clearValue",
		"click",
		"doubleClick",
		"dragAndDrop",
		"moveTo",
		"positionClick",
		"selectByAttribute",
		"selectByIndex",
		"selectByVisibleText",
		"setValue",
		"touchAction",
		"action",
		"actions",
		"performActions",
		"emit",
		"keys",
		"elementClick",
		"elementSendKeys",
		"elementClear",
	},
}
