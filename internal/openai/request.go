package openai

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/chriskillpack/picdesc/describer"
	"github.com/gabriel-vasile/mimetype"

	oagc "github.com/openai/openai-go"
)

// dataURL encodes the payload as an inline data reference. A payload without
// a declared type is sniffed.
func dataURL(image describer.ImagePayload) string {
	mt := image.MIMEType
	if mt == "" {
		mt = mimetype.Detect(image.Data).String()
	}
	// Drop parameters such as "; charset=binary".
	mt, _, _ = strings.Cut(mt, ";")

	var sb strings.Builder
	sb.Grow(len("data:;base64,") + len(mt) + base64.StdEncoding.EncodedLen(len(image.Data)))
	sb.WriteString("data:")
	sb.WriteString(strings.TrimSpace(mt))
	sb.WriteString(";base64,")
	sb.WriteString(base64.StdEncoding.EncodeToString(image.Data))
	return sb.String()
}

// chatRequest builds the chat-completions body: one user message holding the
// prompt and the image. The model is left out unless configured, since Azure
// deployments pin it in the URL.
func chatRequest(prompt, model string, image describer.ImagePayload) oagc.ChatCompletionNewParams {
	params := oagc.ChatCompletionNewParams{
		Messages: oagc.F([]oagc.ChatCompletionMessageParamUnion{
			oagc.UserMessageParts(
				oagc.TextPart(prompt),
				oagc.ImagePart(dataURL(image)),
			),
		}),
	}
	if model != "" {
		params.Model = oagc.F(oagc.ChatModel(model))
	}
	return params
}

func (c *Client) buildRequest(image describer.ImagePayload) ([]byte, error) {
	return json.Marshal(chatRequest(c.opts.Prompt, c.opts.Model, image))
}
