// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"
	"strconv"
	"strings"
)

// Well-known serial API command ids. The link layer treats command ids as
// opaque; these names exist for formatting and for the session layer's
// network-management classification.
const (
	CmdSerialAPIGetInitData       = 0x02
	CmdApplicationCommandHandler  = 0x04
	CmdGetControllerCapabilities  = 0x05
	CmdSerialAPIGetCapabilities   = 0x07
	CmdSerialAPISoftReset         = 0x08
	CmdSendData                   = 0x13
	CmdGetVersion                 = 0x15
	CmdMemoryGetID                = 0x20
	CmdGetNodeProtocolInfo        = 0x41
	CmdSetDefault                 = 0x42
	CmdAssignReturnRoute          = 0x46
	CmdDeleteReturnRoute          = 0x47
	CmdRequestNodeNeighborUpdate  = 0x48
	CmdApplicationUpdate          = 0x49
	CmdAddNodeToNetwork           = 0x4A
	CmdRemoveNodeFromNetwork      = 0x4B
	CmdControllerChange           = 0x4D
	CmdSetLearnMode               = 0x50
	CmdAssignSUCReturnRoute       = 0x51
	CmdRequestNetworkUpdate       = 0x53
	CmdSetSUCNodeID               = 0x54
	CmdGetSUCNodeID               = 0x56
	CmdRequestNodeInfo            = 0x60
	CmdRemoveFailedNode           = 0x61
	CmdIsFailedNode               = 0x62
	CmdReplaceFailedNode          = 0x63
)

var commandNames = map[uint8]string{
	CmdSerialAPIGetInitData:      "SERIAL_API_GET_INIT_DATA",
	CmdApplicationCommandHandler: "APPLICATION_COMMAND_HANDLER",
	CmdGetControllerCapabilities: "GET_CONTROLLER_CAPABILITIES",
	CmdSerialAPIGetCapabilities:  "SERIAL_API_GET_CAPABILITIES",
	CmdSerialAPISoftReset:        "SERIAL_API_SOFT_RESET",
	CmdSendData:                  "SEND_DATA",
	CmdGetVersion:                "GET_VERSION",
	CmdMemoryGetID:               "MEMORY_GET_ID",
	CmdGetNodeProtocolInfo:       "GET_NODE_PROTOCOL_INFO",
	CmdSetDefault:                "SET_DEFAULT",
	CmdAssignReturnRoute:         "ASSIGN_RETURN_ROUTE",
	CmdDeleteReturnRoute:         "DELETE_RETURN_ROUTE",
	CmdRequestNodeNeighborUpdate: "REQUEST_NODE_NEIGHBOR_UPDATE",
	CmdApplicationUpdate:         "APPLICATION_UPDATE",
	CmdAddNodeToNetwork:          "ADD_NODE_TO_NETWORK",
	CmdRemoveNodeFromNetwork:     "REMOVE_NODE_FROM_NETWORK",
	CmdControllerChange:          "CONTROLLER_CHANGE",
	CmdSetLearnMode:              "SET_LEARN_MODE",
	CmdAssignSUCReturnRoute:      "ASSIGN_SUC_RETURN_ROUTE",
	CmdRequestNetworkUpdate:      "REQUEST_NETWORK_UPDATE",
	CmdSetSUCNodeID:              "SET_SUC_NODE_ID",
	CmdGetSUCNodeID:              "GET_SUC_NODE_ID",
	CmdRequestNodeInfo:           "REQUEST_NODE_INFO",
	CmdRemoveFailedNode:          "REMOVE_FAILED_NODE_ID",
	CmdIsFailedNode:              "IS_FAILED_NODE",
	CmdReplaceFailedNode:         "REPLACE_FAILED_NODE",
}

// ParseCommand resolves a command name such as "SEND_DATA" (any case) or a
// numeric id such as "0x13" or "19"
func ParseCommand(s string) (uint8, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for id, n := range commandNames {
		if n == name {
			return id, nil
		}
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown command %q", s)
	}
	return uint8(v), nil
}
