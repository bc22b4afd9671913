package util

import (
	"sync"
	"sync/atomic"
)

const (
	FAULTS_COUNT         int = 16
	FAULTS_SCOPE_TXN     int = 0
	FAULTS_SCOPE_STORAGE int = 1
)

var faultsSwitch [FAULTS_COUNT]Faults

// Faults holds the injected failures of one scope.
// Only tests enable a scope.
type Faults struct {
	_enable atomic.Bool
	_faults sync.Map
}

type FaultAction struct {
	Args   []string
	Action func([]string) error
}

func (action *FaultAction) Run() error {
	if action == nil || action.Action == nil {
		return nil
	}
	return action.Action(action.Args)
}

func Open(scope int) {
	if scope >= FAULTS_COUNT || scope < 0 {
		return
	}
	faultsSwitch[scope]._enable.Store(true)
}

func Close(scope int) {
	if scope >= FAULTS_COUNT || scope < 0 {
		return
	}
	faultsSwitch[scope]._enable.Store(false)
	faultsSwitch[scope]._faults.Clear()
}

func Check(scope int, faultName string) *FaultAction {
	if scope >= FAULTS_COUNT || scope < 0 {
		return nil
	}
	if !faultsSwitch[scope]._enable.Load() {
		return nil
	}
	val, ok := faultsSwitch[scope]._faults.Load(faultName)
	if !ok || val == nil {
		return nil
	}
	return val.(*FaultAction)
}

// Inject runs the registered fault if there is one.
func Inject(scope int, faultName string) error {
	return Check(scope, faultName).Run()
}

func Register(scope int, faultName string, args []string, action func([]string) error) {
	if scope >= FAULTS_COUNT || scope < 0 {
		return
	}
	if !faultsSwitch[scope]._enable.Load() {
		return
	}
	faultsSwitch[scope]._faults.Store(faultName, &FaultAction{Args: args, Action: action})
}

func Unregister(scope int, faultName string) {
	if scope >= FAULTS_COUNT || scope < 0 {
		return
	}
	faultsSwitch[scope]._faults.Delete(faultName)
}
