// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/quench/pkg/fabric"
)

var (
	sendChatID    string
	sendTicketID  string
	sendReplyTo   []string
	sendStop      bool
	sendSender    string
	sendRecipient string
)

var sendCmd = &cobra.Command{
	Use:   "send [message...]",
	Short: "Append an envelope to a mailbox (human entry point)",
	RunE: func(cmd *cobra.Command, args []string) error {
		stream, err := buildStream(cmd.Context())
		if err != nil {
			return err
		}
		defer stream.Close()

		payload := fabric.Payload{
			ChatID:   sendChatID,
			TicketID: sendTicketID,
			ReplyTo:  sendReplyTo,
		}
		if sendStop {
			payload.AutonomousControl = &fabric.AutonomousControl{
				Action: fabric.EmergencyStopAction,
			}
		}

		env := fabric.NewEnvelope(sendSender, sendRecipient,
			strings.Join(args, " "), payload)
		id, err := fabric.Send(cmd.Context(), stream, env)
		if err != nil {
			return err
		}
		fmt.Printf("appended %s to %s\n", id, fabric.Mailbox(sendRecipient))
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendChatID, "chat", "", "Chat id")
	sendCmd.Flags().StringVar(&sendTicketID, "ticket", "", "Correlation ticket id")
	sendCmd.Flags().StringSliceVar(&sendReplyTo, "reply-to", nil, "Recipients the orchestrator should dispatch to")
	sendCmd.Flags().BoolVar(&sendStop, "emergency-stop", false, "Send an emergency stop control action")
	sendCmd.Flags().StringVar(&sendSender, "from", fabric.RecipientHuman, "Envelope sender")
	sendCmd.Flags().StringVar(&sendRecipient, "to", fabric.RecipientOrchestrator, "Envelope recipient")
}
