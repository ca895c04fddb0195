package stdlib

import (
	"time"

	"bog/internal/network"
	"bog/internal/vm"
)

var netModule = network.NewModule()

func netNatives() []*vm.Native {
	return []*vm.Native{
		{Name: "httpGet", Arity: 1, Fn: httpGetFn},
		{Name: "wsConnect", Arity: 1, Fn: wsConnectFn},
		{Name: "wsSend", Arity: 2, Fn: wsSendFn},
		{Name: "wsReceive", Arity: 2, Fn: wsReceiveFn},
		{Name: "wsClose", Arity: 1, Fn: wsCloseFn},
	}
}

// httpGetFn fetches a URL: returns {status, body} or an error value.
func httpGetFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	url, err := strArg(args, 0)
	if err != nil {
		return nil, err
	}
	status, body, err := netModule.HTTPGet(url)
	if err != nil {
		return v.NewError(v.NewStr(err.Error())), nil
	}
	m := v.NewMap()
	m.Set(v.NewStr("status"), v.NewInt(int64(status)))
	m.Set(v.NewStr("body"), v.NewStr(body))
	return m, nil
}

func wsConnectFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	url, err := strArg(args, 0)
	if err != nil {
		return nil, err
	}
	id, err := netModule.WSConnect(url)
	if err != nil {
		return v.NewError(v.NewStr(err.Error())), nil
	}
	return v.NewStr(id), nil
}

func wsSendFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	id, err := strArg(args, 0)
	if err != nil {
		return nil, err
	}
	message, err := strArg(args, 1)
	if err != nil {
		return nil, err
	}
	if err := netModule.WSSend(id, message); err != nil {
		return v.NewError(v.NewStr(err.Error())), nil
	}
	return vm.None, nil
}

func wsReceiveFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	id, err := strArg(args, 0)
	if err != nil {
		return nil, err
	}
	seconds, err := numArg(args[1])
	if err != nil {
		return nil, err
	}
	message, err := netModule.WSReceive(id, time.Duration(seconds*float64(time.Second)))
	if err != nil {
		return v.NewError(v.NewStr(err.Error())), nil
	}
	return v.NewStr(message), nil
}

func wsCloseFn(v *vm.VM, args []vm.Value) (vm.Value, error) {
	id, err := strArg(args, 0)
	if err != nil {
		return nil, err
	}
	if err := netModule.WSClose(id); err != nil {
		return v.NewError(v.NewStr(err.Error())), nil
	}
	return vm.None, nil
}
