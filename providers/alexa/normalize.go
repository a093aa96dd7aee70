package alexa

import (
	"encoding/json"
	"strings"

	"github.com/tiger/lex-bot-tester/api/dialog"
	"github.com/tiger/lex-bot-tester/internal/simulation"
)

type simulationResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result *struct {
		SkillExecutionInfo *skillExecutionInfo `json:"skillExecutionInfo"`
		Error              *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"result"`
}

// skillExecutionInfo carries either a list of invocations or, in older
// responses, a single request/response pair.
type skillExecutionInfo struct {
	Invocations        []invocation       `json:"invocations"`
	InvocationRequest  *invocationRequest `json:"invocationRequest"`
	InvocationResponse *invocationReply   `json:"invocationResponse"`
}

type invocation struct {
	InvocationRequest  *invocationRequest `json:"invocationRequest"`
	InvocationResponse *invocationReply   `json:"invocationResponse"`
}

type invocationRequest struct {
	Body struct {
		Request struct {
			Type        string `json:"type"`
			DialogState string `json:"dialogState"`
			Intent      *struct {
				Name  string `json:"name"`
				Slots map[string]struct {
					Name  string `json:"name"`
					Value string `json:"value"`
				} `json:"slots"`
			} `json:"intent"`
		} `json:"request"`
	} `json:"body"`
}

type speech struct {
	Type string `json:"type"`
	Text string `json:"text"`
	SSML string `json:"ssml"`
}

type invocationReply struct {
	Body struct {
		SessionAttributes map[string]any `json:"sessionAttributes"`
		Response          struct {
			OutputSpeech *speech `json:"outputSpeech"`
			Reprompt     *struct {
				OutputSpeech *speech `json:"outputSpeech"`
			} `json:"reprompt"`
			Directives []struct {
				Type         string `json:"type"`
				SlotToElicit string `json:"slotToElicit"`
			} `json:"directives"`
			ShouldEndSession *bool `json:"shouldEndSession"`
		} `json:"response"`
	} `json:"body"`
}

func (r simulationResponse) job() simulation.Job {
	job := simulation.Job{ID: r.ID, Status: simulation.Status(strings.ToUpper(strings.TrimSpace(r.Status)))}
	if r.Result == nil {
		return job
	}
	if r.Result.Error != nil && r.Result.Error.Message != "" {
		job.Detail = r.Result.Error.Message
		if job.Status == simulation.StatusSuccessful {
			job.Status = simulation.StatusFailed
		}
	}
	if info := r.Result.SkillExecutionInfo; info != nil {
		req, reply := info.InvocationRequest, info.InvocationResponse
		if n := len(info.Invocations); n > 0 {
			req, reply = info.Invocations[n-1].InvocationRequest, info.Invocations[n-1].InvocationResponse
		}
		job.Outcome = normalizeInvocation(req, reply)
	}
	return job
}

func normalizeInvocation(req *invocationRequest, reply *invocationReply) dialog.Outcome {
	var outcome dialog.Outcome
	if req != nil {
		r := req.Body.Request
		outcome.DialogState = dialog.DialogState(r.DialogState)
		if r.Intent != nil {
			outcome.IntentName = r.Intent.Name
			raw := make(map[string]string, len(r.Intent.Slots))
			for key, slot := range r.Intent.Slots {
				name := slot.Name
				if name == "" {
					name = key
				}
				raw[name] = slot.Value
			}
			outcome.SlotValues = dialog.NormalizeSlotValues(raw)
		}
	}
	if reply == nil {
		return outcome
	}
	resp := reply.Body.Response
	outcome.Speech = toSpeech(resp.OutputSpeech)
	if resp.Reprompt != nil {
		outcome.RepromptSpeech = toSpeech(resp.Reprompt.OutputSpeech)
	}
	if len(resp.Directives) > 0 {
		outcome.DirectiveType = resp.Directives[0].Type
		outcome.SlotToElicit = resp.Directives[0].SlotToElicit
	}
	if resp.ShouldEndSession != nil {
		outcome.ShouldEndSession = *resp.ShouldEndSession
	}
	if len(reply.Body.SessionAttributes) > 0 {
		outcome.SessionAttributes = make(map[string]string, len(reply.Body.SessionAttributes))
		for k, v := range reply.Body.SessionAttributes {
			outcome.SessionAttributes[k] = stringify(v)
		}
	}
	return outcome
}

func toSpeech(s *speech) *dialog.Speech {
	if s == nil {
		return nil
	}
	if s.SSML != "" || strings.EqualFold(s.Type, string(dialog.SpeechSSML)) {
		return &dialog.Speech{Kind: dialog.SpeechSSML, Value: s.SSML}
	}
	return &dialog.Speech{Kind: dialog.SpeechPlainText, Value: s.Text}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
