package progression

import (
	"fmt"

	"github.com/effectus/progressive-go/notify"
	"github.com/effectus/progressive-go/rules"
	"github.com/effectus/progressive-go/store"
)

// templateKey names the show_tutorial data field that selects a configured template.
const templateKey = "template"

// The methods below implement rules.Executor. The engine calls them from Tick while c.mu is
// held.

// UnlockElement makes an element visible.
func (c *Controller) UnlockElement(rule rules.Rule, id string) error {
	el, ok := c.store.Element(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownElement, id)
	}
	c.setVisible(el, true)
	c.emit(notify.RuleTriggered, notify.RuleAction{
		Rule:   rule.Name,
		Action: string(rules.ActionUnlockElement),
		Data:   map[string]interface{}{"element": id},
	})
	return nil
}

// UnlockCategory makes every element of a category visible and reports how many were
// hidden before.
func (c *Controller) UnlockCategory(rule rules.Rule, category store.Category, area string) (int, error) {
	unlocked := c.unlockCategory(category, area)
	c.emit(notify.RuleTriggered, notify.RuleAction{
		Rule:   rule.Name,
		Action: string(rules.ActionUnlockCategory),
		Data: map[string]interface{}{
			"category": string(category),
			"area":     area,
			"unlocked": unlocked,
		},
	})
	return unlocked, nil
}

// ShowTutorial forwards a tutorial request, attaching the configured template it names.
func (c *Controller) ShowTutorial(rule rules.Rule, data map[string]interface{}) error {
	payload := notify.RuleAction{
		Rule:   rule.Name,
		Action: string(rules.ActionShowTutorial),
		Data:   data,
	}
	if id, ok := data[templateKey].(string); ok && c.doc != nil {
		tpl, found := c.doc.Template(id)
		if !found {
			return fmt.Errorf("tutorial template %q not configured", id)
		}
		payload.Template = &notify.Template{
			ID:      tpl.ID,
			Title:   tpl.Title,
			Content: tpl.Content,
			Steps:   append([]string(nil), tpl.Steps...),
		}
	}
	c.emit(notify.TutorialRequested, payload)
	return nil
}

// SendEvent forwards a custom event.
func (c *Controller) SendEvent(rule rules.Rule, data map[string]interface{}) error {
	c.emit(notify.CustomEvent, notify.RuleAction{
		Rule:   rule.Name,
		Action: string(rules.ActionSendEvent),
		Data:   data,
	})
	return nil
}
