package login

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
	"github.com/ohmynofan/netease-music-bot/pkg/utils"
)

const cellphoneLoginPath = "/weapi/login/cellphone"

type cellphoneLoginRequest struct {
	Phone         string `json:"phone"`
	Password      string `json:"password"`
	RememberLogin string `json:"rememberLogin"`
}

// loginAPI exchanges the md5 of the password for session cookies through the envelope.
func (o *Orchestrator) loginAPI(ctx context.Context, cred model.Credential) (outcome, error) {
	client := o.client.WithCookie("", o.session)

	o.setState(StateFormFilled)
	res, err := client.Call(ctx, http.MethodPost, cellphoneLoginPath, cellphoneLoginRequest{
		Phone:         cred.Phone,
		Password:      utils.MD5Hex(cred.Password),
		RememberLogin: "true",
	}, true)
	if err != nil {
		return outcome{}, err
	}
	if !res.OK() {
		return outcome{}, fmt.Errorf("cellphone login rejected: %w (%s)", res.Err(), utils.Truncate(string(res.Raw), 200))
	}

	if !client.HasCookie("MUSIC_U") && !client.HasCookie("__csrf") {
		return outcome{}, fmt.Errorf("cellphone login returned no session cookies")
	}

	return outcome{
		cookie:  client.CookieString(),
		uid:     extractUID(res.Body),
		profile: res.Body,
	}, nil
}
