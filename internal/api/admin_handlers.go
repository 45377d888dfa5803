package api

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/harrylevesque/memberhub/internal/auth"
	"github.com/harrylevesque/memberhub/internal/challenges"
	"github.com/harrylevesque/memberhub/internal/httpx"
	"github.com/harrylevesque/memberhub/internal/marketplace"
	"github.com/harrylevesque/memberhub/internal/models"
	"github.com/harrylevesque/memberhub/internal/news"
	"github.com/harrylevesque/memberhub/internal/settings"
	"github.com/harrylevesque/memberhub/internal/utils"
)

// MaxCSVUpload caps roster uploads.
const MaxCSVUpload = 10 << 20

func actorID(r *http.Request) string {
	return auth.MemberFrom(r.Context()).ID
}

// Members

func (s *Server) adminListMembers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	q := r.URL.Query()
	list, total, err := s.Members.List(r.Context(), models.MemberFilter{
		Query:  q.Get("q"),
		Status: models.MemberStatus(q.Get("status")),
		Role:   models.Role(q.Get("role")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"members": orEmpty(list), "total": total})
}

func (s *Server) adminGetMember(w http.ResponseWriter, r *http.Request) {
	m, err := s.Members.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, m)
}

func (s *Server) adminSetRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role models.Role `json:"role"`
	}
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	m, err := s.Members.SetRole(r.Context(), actorID(r), mux.Vars(r)["id"], req.Role)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, m)
}

func (s *Server) adminSetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.MemberStatus `json:"status"`
	}
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	m, err := s.Members.SetStatus(r.Context(), actorID(r), mux.Vars(r)["id"], req.Status)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, m)
}

// adminImportMembers accepts either a raw text/csv body or a multipart form
// with the roster in the "file" field.
func (s *Server) adminImportMembers(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxCSVUpload)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var src io.Reader
	switch mediaType {
	case "text/csv", "application/csv":
		src = r.Body
	case "multipart/form-data":
		if err := r.ParseMultipartForm(MaxCSVUpload); err != nil {
			if !tooLarge(err) {
				err = utils.Wrap(utils.KindValidation, err, "invalid_upload", "malformed multipart body")
			}
			httpx.WriteError(w, r, uploadError(err))
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			httpx.WriteError(w, r, utils.Validation("file_required", "multipart upload needs a file field"))
			return
		}
		defer f.Close()
		src = f
	default:
		httpx.WriteError(w, r, utils.Validation("unsupported_media_type", "upload text/csv or multipart/form-data"))
		return
	}

	res, err := s.Members.ImportCSV(r.Context(), src)
	if err != nil {
		httpx.WriteError(w, r, uploadError(err))
		return
	}
	utils.SecurityEvent("members_imported").
		Str("actor_id", actorID(r)).
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("errors", len(res.Errors)).
		Msg("roster imported")
	httpx.WriteJSON(w, http.StatusOK, res)
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func uploadError(err error) error {
	if tooLarge(err) {
		return utils.Wrap(utils.KindValidation, err, "body_too_large", "CSV upload is limited to 10 MiB")
	}
	return err
}

// News

func (s *Server) adminListNews(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	posts, err := s.News.List(r.Context(), false, limit, offset)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

func (s *Server) adminCreateNews(w http.ResponseWriter, r *http.Request) {
	var in news.PostInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := s.News.Create(r.Context(), actorID(r), in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, p)
}

func (s *Server) adminUpdateNews(w http.ResponseWriter, r *http.Request) {
	var in news.PostInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := s.News.Update(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) adminDeleteNews(w http.ResponseWriter, r *http.Request) {
	if err := s.News.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) adminPublishNews(w http.ResponseWriter, r *http.Request) {
	p, err := s.News.Publish(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) adminUnpublishNews(w http.ResponseWriter, r *http.Request) {
	p, err := s.News.Unpublish(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

// Settings

func (s *Server) adminListSettings(w http.ResponseWriter, r *http.Request) {
	list, err := s.Settings.All(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"settings": list})
}

func (s *Server) adminPutSetting(w http.ResponseWriter, r *http.Request) {
	var in settings.PutInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	st, err := s.Settings.Put(r.Context(), mux.Vars(r)["key"], in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, st)
}

func (s *Server) adminDeleteSetting(w http.ResponseWriter, r *http.Request) {
	if err := s.Settings.Delete(r.Context(), mux.Vars(r)["key"]); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Challenges and badges

func (s *Server) adminCreateChallenge(w http.ResponseWriter, r *http.Request) {
	var in challenges.ChallengeInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	c, err := s.Challenges.Create(r.Context(), in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, c)
}

func (s *Server) adminUpdateChallenge(w http.ResponseWriter, r *http.Request) {
	var in challenges.ChallengeUpdate
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	c, err := s.Challenges.Update(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (s *Server) adminChallengeStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.ChallengeStatus `json:"status"`
	}
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	c, err := s.Challenges.Transition(r.Context(), mux.Vars(r)["id"], req.Status)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (s *Server) adminSyncChallenges(w http.ResponseWriter, r *http.Request) {
	n, err := s.Challenges.SyncStatuses(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"changed": n})
}

func (s *Server) adminListBadges(w http.ResponseWriter, r *http.Request) {
	badges, err := s.Challenges.Badges(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"badges": orEmpty(badges)})
}

func (s *Server) adminCreateBadge(w http.ResponseWriter, r *http.Request) {
	var in challenges.BadgeInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	b, err := s.Challenges.CreateBadge(r.Context(), in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, b)
}

// Marketplace

func (s *Server) adminCreateProduct(w http.ResponseWriter, r *http.Request) {
	var in marketplace.ProductInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := s.Marketplace.CreateProduct(r.Context(), in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, p)
}

func (s *Server) adminUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var in marketplace.ProductInput
	if err := httpx.DecodeJSON(w, r, &in); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := s.Marketplace.UpdateProduct(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) adminListOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	orders, err := s.Marketplace.Orders(r.Context(), models.OrderStatus(r.URL.Query().Get("status")), limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (s *Server) adminOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.OrderStatus `json:"status"`
	}
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	o, err := s.Marketplace.SetOrderStatus(r.Context(), mux.Vars(r)["id"], req.Status)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}
